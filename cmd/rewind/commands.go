package main

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/kode4food/rewind"
	"github.com/kode4food/rewind/inventory"
)

type (
	inventoryView struct {
		ID       rewind.ID      `json:"id"`
		Version  rewind.Version `json:"version"`
		Products []productView  `json:"products"`
	}

	productView struct {
		ProductID uuid.UUID `json:"product_id"`
		Quantity  int       `json:"quantity"`
	}

	recordView struct {
		Timestamp   time.Time        `json:"timestamp"`
		Event       rewind.Event     `json:"data"`
		Type        rewind.EventType `json:"type"`
		AggregateID rewind.ID        `json:"aggregate_id"`
		Version     rewind.Version   `json:"version"`
	}
)

var (
	// ErrListUnsupported indicates a backend that cannot enumerate aggregates
	ErrListUnsupported = errors.New("backend cannot list aggregates")

	// ErrConflictingBounds indicates a show with both --version and --at
	ErrConflictingBounds = errors.New("--version and --at are mutually exclusive")

	// ErrNegativeVersion indicates a --version below zero
	ErrNegativeVersion = errors.New("--version must not be negative")
)

var jsonCodec = jsoniter.ConfigCompatibleWithStandardLibrary

func (a *app) createCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create",
		Short: "Create an empty inventory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			inv, err := inventory.Create()
			if err != nil {
				return err
			}
			if err := a.store.Commit(cmd.Context(), inv); err != nil {
				return err
			}
			return a.printInventory(inv)
		},
	}
}

func (a *app) addCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <inventory-id> <product-id> <quantity>",
		Short: "Receive stock for a product",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.adjust(cmd, args, (*inventory.Inventory).AddProduct)
		},
	}
}

func (a *app) removeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <inventory-id> <product-id> <quantity>",
		Short: "Take stock out for a product",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.adjust(cmd, args, (*inventory.Inventory).RemoveProduct)
		},
	}
}

func (a *app) showCmd() *cobra.Command {
	var (
		version int64
		at      string
	)
	cmd := &cobra.Command{
		Use:   "show <inventory-id>",
		Short: "Show an inventory, optionally as of a version or time",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := rewind.ParseID(args[0])
			if err != nil {
				return fmt.Errorf("invalid inventory id: %w", err)
			}

			ctx := cmd.Context()
			byVersion := cmd.Flags().Changed("version")
			byTime := cmd.Flags().Changed("at")
			var inv *inventory.Inventory
			switch {
			case byVersion && byTime:
				return ErrConflictingBounds
			case byVersion:
				if version < 0 {
					return fmt.Errorf("%w: %d", ErrNegativeVersion, version)
				}
				inv, err = a.store.GetByVersion(ctx, id, rewind.Version(version))
			case byTime:
				instant, perr := time.Parse(time.RFC3339Nano, at)
				if perr != nil {
					return fmt.Errorf("invalid --at: %w", perr)
				}
				inv, err = a.store.GetByTime(ctx, id, instant)
			default:
				inv, err = a.store.GetByID(ctx, id)
			}
			if err != nil {
				return err
			}
			return a.printInventory(inv)
		},
	}
	cmd.Flags().Int64Var(&version, "version", 0,
		"reconstruct as of this version")
	cmd.Flags().StringVar(&at, "at", "",
		"reconstruct as of this RFC 3339 instant")
	return cmd
}

func (a *app) historyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <inventory-id>",
		Short: "List the events of an inventory in version order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := rewind.ParseID(args[0])
			if err != nil {
				return fmt.Errorf("invalid inventory id: %w", err)
			}
			recs, err := a.store.History(cmd.Context(), id)
			if err != nil {
				return err
			}
			if a.jsonOutput {
				return jsonCodec.NewEncoder(a.out).Encode(newRecordViews(recs))
			}
			for _, rec := range recs {
				fmt.Fprintf(a.out, "%d\t%s\t%s\t%s\n",
					rec.Version,
					rec.Timestamp.Format(time.RFC3339Nano),
					rec.Type,
					describe(rec.Event),
				)
			}
			return nil
		},
	}
}

func (a *app) listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the identities of stored inventories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			l, ok := a.backend.(rewind.Lister)
			if !ok {
				return ErrListUnsupported
			}
			ids, err := l.ListIDs(cmd.Context())
			if err != nil {
				return err
			}
			slices.SortFunc(ids, compareIDs)
			if a.jsonOutput {
				return jsonCodec.NewEncoder(a.out).Encode(ids)
			}
			for _, id := range ids {
				fmt.Fprintln(a.out, id)
			}
			return nil
		},
	}
}

func (a *app) adjust(
	cmd *cobra.Command, args []string,
	op func(*inventory.Inventory, uuid.UUID, int) error,
) error {
	id, err := rewind.ParseID(args[0])
	if err != nil {
		return fmt.Errorf("invalid inventory id: %w", err)
	}
	productID, err := uuid.Parse(args[1])
	if err != nil {
		return fmt.Errorf("invalid product id: %w", err)
	}
	quantity, err := strconv.Atoi(args[2])
	if err != nil {
		return fmt.Errorf("invalid quantity: %w", err)
	}

	inv, err := a.store.Update(cmd.Context(), id,
		func(inv *inventory.Inventory) error {
			return op(inv, productID, quantity)
		},
	)
	if err != nil {
		return err
	}
	return a.printInventory(inv)
}

func (a *app) printInventory(inv *inventory.Inventory) error {
	view := newInventoryView(inv)
	if a.jsonOutput {
		return jsonCodec.NewEncoder(a.out).Encode(view)
	}
	fmt.Fprintf(a.out, "inventory %s at version %d\n", view.ID, view.Version)
	for _, p := range view.Products {
		fmt.Fprintf(a.out, "  %s\t%d\n", p.ProductID, p.Quantity)
	}
	return nil
}

func newInventoryView(inv *inventory.Inventory) inventoryView {
	products := inv.Products()
	ids := slices.SortedFunc(maps.Keys(products), compareIDs)
	res := inventoryView{
		ID:       inv.ID(),
		Version:  inv.Version(),
		Products: make([]productView, 0, len(ids)),
	}
	for _, id := range ids {
		res.Products = append(res.Products, productView{
			ProductID: id,
			Quantity:  products[id],
		})
	}
	return res
}

func newRecordViews(recs []*rewind.Record) []recordView {
	res := make([]recordView, 0, len(recs))
	for _, rec := range recs {
		res = append(res, recordView{
			AggregateID: rec.AggregateID,
			Version:     rec.Version,
			Timestamp:   rec.Timestamp,
			Type:        rec.Type,
			Event:       rec.Event,
		})
	}
	return res
}

func compareIDs(l, r uuid.UUID) int {
	return slices.Compare(l[:], r[:])
}

func describe(ev rewind.Event) string {
	switch ev := ev.(type) {
	case inventory.Created:
		return ev.InventoryID.String()
	case inventory.ProductAdded:
		return fmt.Sprintf("+%d %s", ev.Quantity, ev.ProductID)
	case inventory.ProductRemoved:
		return fmt.Sprintf("-%d %s", ev.Quantity, ev.ProductID)
	default:
		return ""
	}
}
