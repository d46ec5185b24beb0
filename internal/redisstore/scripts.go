// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package redisstore

import "github.com/redis/go-redis/v9"

// invalidateBody marks every active token in the account set as used.
// KEYS[1] account set, KEYS[2] expiry index, KEYS[3] used index.
// ARGV[1] now (ms), ARGV[2] token key prefix.
const invalidateBody = `
local now = tonumber(ARGV[1])
local superseded = 0
local ids = redis.call('ZRANGE', KEYS[1], 0, -1)
for _, id in ipairs(ids) do
	local key = ARGV[2] .. id
	local t = redis.call('HMGET', key, 'used', 'expires_at', 'attempt_count', 'max_attempts')
	if t[1] == '0' and tonumber(t[2]) > now and tonumber(t[3]) < tonumber(t[4]) then
		redis.call('HSET', key, 'used', '1', 'used_at', ARGV[1])
		redis.call('ZREM', KEYS[2], id)
		redis.call('ZADD', KEYS[3], now, id)
		superseded = superseded + 1
	end
end
`

// createBody inserts a token hash and indexes it.
// KEYS[1] account set, KEYS[2] expiry index, KEYS[4] token key.
// ARGV[3] id, ARGV[4] account id, ARGV[5] purpose, ARGV[6] code hash,
// ARGV[7] code salt, ARGV[8] created at, ARGV[9] expires at,
// ARGV[10] max attempts.
const createBody = `
redis.call('HSET', KEYS[4],
	'id', ARGV[3], 'account_id', ARGV[4], 'purpose', ARGV[5],
	'code_hash', ARGV[6], 'code_salt', ARGV[7],
	'created_at', ARGV[8], 'expires_at', ARGV[9],
	'attempt_count', '0', 'max_attempts', ARGV[10], 'used', '0')
redis.call('ZADD', KEYS[1], ARGV[8], ARGV[3])
redis.call('ZADD', KEYS[2], ARGV[9], ARGV[3])
`

var (
	invalidateScript = redis.NewScript(invalidateBody + `
return superseded
`)

	createScript = redis.NewScript(createBody + `
return 1
`)

	supersedeScript = redis.NewScript(invalidateBody + createBody + `
return superseded
`)

	// KEYS[1] token key. Returns -1 if the token does not exist.
	incrementScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return -1
end
local count = tonumber(redis.call('HGET', KEYS[1], 'attempt_count'))
local max = tonumber(redis.call('HGET', KEYS[1], 'max_attempts'))
if count < max then
	count = redis.call('HINCRBY', KEYS[1], 'attempt_count', 1)
end
return count
`)

	// KEYS[1] token key, KEYS[2] expiry index, KEYS[3] used index.
	// ARGV[1] now (ms), ARGV[2] id. Returns -1, 0 or 1.
	markUsedScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return -1
end
if redis.call('HGET', KEYS[1], 'used') == '1' then
	return 0
end
redis.call('HSET', KEYS[1], 'used', '1', 'used_at', ARGV[1])
redis.call('ZREM', KEYS[2], ARGV[2])
redis.call('ZADD', KEYS[3], ARGV[1], ARGV[2])
return 1
`)

	// KEYS[1] index to drain. ARGV[1] max score, ARGV[2] token key
	// prefix, ARGV[3] account set prefix, ARGV[4] required used flag.
	purgeScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
local deleted = 0
for _, id in ipairs(ids) do
	local key = ARGV[2] .. id
	local t = redis.call('HMGET', key, 'account_id', 'purpose', 'used')
	if t[3] == ARGV[4] then
		redis.call('DEL', key)
		redis.call('ZREM', ARGV[3] .. t[1] .. ':' .. t[2], id)
		deleted = deleted + 1
	end
	redis.call('ZREM', KEYS[1], id)
end
return deleted
`)

	// KEYS[1] lock key. ARGV[1] owner token.
	unlockScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)
)
