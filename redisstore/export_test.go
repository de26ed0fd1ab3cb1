package redisstore

var ParseAppendResult = parseAppendResult
