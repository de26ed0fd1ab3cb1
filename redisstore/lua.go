package redisstore

const (
	luaAppendEvents = `
		-- Atomically append envelopes to a list with a version continuity check
		-- KEYS[1] = event list key
		-- ARGV[1] = expected stored length (first new version - 1)
		-- ARGV[2..N] = envelope data (JSON)
		-- Returns: {1, newLength} on success, or {0, currentLength}

		local currentLen = redis.call('LLEN', KEYS[1])
		local expected = tonumber(ARGV[1])

		if expected ~= currentLen then
			return {0, currentLen}
		end

		local chunkSize = 128
		local startIdx = 2

		while startIdx <= #ARGV do
			local endIdx = math.min(startIdx + chunkSize - 1, #ARGV)
			local chunk = {}
			for i = startIdx, endIdx do
				table.insert(chunk, ARGV[i])
			end
			redis.call('RPUSH', KEYS[1], unpack(chunk))
			startIdx = endIdx + 1
		end

		return {1, redis.call('LLEN', KEYS[1])}
		`
)
