package redisqueue

import "github.com/redis/go-redis/v9"

// Every script receives the key prefix as ARGV[1] and derives job and dedup
// keys from it, so a queue must live on a single Redis node.

// scheduleScript removes the live job holding the dedup key, then stores the
// new job and points the key at it.
//
// KEYS: waiting, active
// ARGV: prefix, id, dedup key, run_at, field/value pairs...
var scheduleScript = redis.NewScript(`
local prefix, id, dedup, runAt = ARGV[1], ARGV[2], ARGV[3], ARGV[4]
local dedupKey = prefix .. 'dedup:' .. dedup
local old = redis.call('GET', dedupKey)
if old then
	redis.call('ZREM', KEYS[1], old)
	redis.call('ZREM', KEYS[2], old)
	redis.call('DEL', prefix .. 'job:' .. old)
end
redis.call('HSET', prefix .. 'job:' .. id, unpack(ARGV, 5))
redis.call('ZADD', KEYS[1], runAt, id)
redis.call('SET', dedupKey, id)
return id
`)

// claimScript moves the earliest due waiting job to active.
//
// KEYS: waiting, active
// ARGV: prefix, now, worker id
var claimScript = redis.NewScript(`
local prefix, now, worker = ARGV[1], ARGV[2], ARGV[3]
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', now, 'LIMIT', 0, 1)
if #ids == 0 then
	return false
end
local id = ids[1]
local jobKey = prefix .. 'job:' .. id
redis.call('ZREM', KEYS[1], id)
redis.call('ZADD', KEYS[2], now, id)
redis.call('HINCRBY', jobKey, 'attempts', 1)
redis.call('HSET', jobKey, 'state', 'active', 'processed_at', now, 'worker_id', worker)
return id
`)

// completeScript settles an active job as completed and releases its dedup key.
//
// KEYS: active, completed
// ARGV: prefix, id, now, result
var completeScript = redis.NewScript(`
local prefix, id, now = ARGV[1], ARGV[2], ARGV[3]
if redis.call('ZREM', KEYS[1], id) == 0 then
	return 0
end
local jobKey = prefix .. 'job:' .. id
redis.call('ZADD', KEYS[2], now, id)
redis.call('HSET', jobKey, 'state', 'completed', 'finished_at', now, 'result', ARGV[4], 'worker_id', '')
local dedupKey = prefix .. 'dedup:' .. redis.call('HGET', jobKey, 'dedup_key')
if redis.call('GET', dedupKey) == id then
	redis.call('DEL', dedupKey)
end
return 1
`)

// failScript records a failed attempt. The caller computes the backoff from the
// attempt count it read; the script only applies it if that count is unchanged.
//
// KEYS: waiting, active, failed
// ARGV: prefix, id, now, reason, expected attempts, terminal flag, next run_at
var failScript = redis.NewScript(`
local prefix, id, now, reason = ARGV[1], ARGV[2], ARGV[3], ARGV[4]
local jobKey = prefix .. 'job:' .. id
if not redis.call('ZSCORE', KEYS[2], id) then
	return 0
end
if redis.call('HGET', jobKey, 'attempts') ~= ARGV[5] then
	return 0
end
redis.call('ZREM', KEYS[2], id)
if ARGV[6] == '1' then
	redis.call('ZADD', KEYS[3], now, id)
	redis.call('HSET', jobKey, 'state', 'failed', 'finished_at', now, 'failed_reason', reason, 'worker_id', '')
	local dedupKey = prefix .. 'dedup:' .. redis.call('HGET', jobKey, 'dedup_key')
	if redis.call('GET', dedupKey) == id then
		redis.call('DEL', dedupKey)
	end
else
	local runAt = ARGV[7]
	redis.call('ZADD', KEYS[1], runAt, id)
	redis.call('HSET', jobKey, 'state', 'waiting', 'run_at', runAt, 'failed_reason', reason, 'worker_id', '')
end
return 1
`)

// releaseScript returns an active job to waiting, due now, and undoes the
// attempt increment of its claim. The dedup key keeps pointing at the job.
//
// KEYS: waiting, active
// ARGV: prefix, id, now
var releaseScript = redis.NewScript(`
local prefix, id, now = ARGV[1], ARGV[2], ARGV[3]
if redis.call('ZREM', KEYS[2], id) == 0 then
	return 0
end
local jobKey = prefix .. 'job:' .. id
redis.call('ZADD', KEYS[1], now, id)
redis.call('HINCRBY', jobKey, 'attempts', -1)
redis.call('HSET', jobKey, 'state', 'waiting', 'run_at', now, 'worker_id', '')
return 1
`)

// purgeOlderScript deletes terminal jobs finished before the cutoff and returns
// {cleaned, total terminal}.
//
// KEYS: completed, failed
// ARGV: prefix, cutoff (exclusive)
var purgeOlderScript = redis.NewScript(`
local prefix, cutoff = ARGV[1], '(' .. ARGV[2]
local total = redis.call('ZCARD', KEYS[1]) + redis.call('ZCARD', KEYS[2])
local cleaned = 0
for _, set in ipairs(KEYS) do
	local ids = redis.call('ZRANGEBYSCORE', set, '-inf', cutoff)
	for _, id in ipairs(ids) do
		redis.call('DEL', prefix .. 'job:' .. id)
	end
	cleaned = cleaned + redis.call('ZREMRANGEBYSCORE', set, '-inf', cutoff)
end
return {cleaned, total}
`)

// purgeAllScript deletes every job and returns
// {waiting, delayed, active, completed, failed}.
//
// KEYS: waiting, active, completed, failed
// ARGV: prefix, now
var purgeAllScript = redis.NewScript(`
local prefix, now = ARGV[1], ARGV[2]
local counts = {
	redis.call('ZCOUNT', KEYS[1], '-inf', now),
	redis.call('ZCOUNT', KEYS[1], '(' .. now, '+inf'),
	redis.call('ZCARD', KEYS[2]),
	redis.call('ZCARD', KEYS[3]),
	redis.call('ZCARD', KEYS[4]),
}
for _, set in ipairs(KEYS) do
	for _, id in ipairs(redis.call('ZRANGE', set, 0, -1)) do
		local jobKey = prefix .. 'job:' .. id
		local dedup = redis.call('HGET', jobKey, 'dedup_key')
		if dedup then
			local dedupKey = prefix .. 'dedup:' .. dedup
			if redis.call('GET', dedupKey) == id then
				redis.call('DEL', dedupKey)
			end
		end
		redis.call('DEL', jobKey)
	end
	redis.call('DEL', set)
end
return counts
`)

// recoverScript returns active jobs to waiting and rebuilds the dedup index
// from live jobs, dropping any live job whose key points elsewhere. Returns the
// number of re-queued jobs.
//
// KEYS: waiting, active
// ARGV: prefix, now
var recoverScript = redis.NewScript(`
local prefix, now = ARGV[1], ARGV[2]
local requeued = 0
for _, id in ipairs(redis.call('ZRANGE', KEYS[2], 0, -1)) do
	redis.call('ZREM', KEYS[2], id)
	redis.call('ZADD', KEYS[1], now, id)
	redis.call('HSET', prefix .. 'job:' .. id, 'state', 'waiting', 'run_at', now, 'worker_id', '')
	requeued = requeued + 1
end
for _, id in ipairs(redis.call('ZRANGE', KEYS[1], 0, -1)) do
	local jobKey = prefix .. 'job:' .. id
	local dedup = redis.call('HGET', jobKey, 'dedup_key')
	if not dedup then
		redis.call('ZREM', KEYS[1], id)
	else
		local dedupKey = prefix .. 'dedup:' .. dedup
		local current = redis.call('GET', dedupKey)
		if not current or redis.call('ZSCORE', KEYS[1], current) == false then
			redis.call('SET', dedupKey, id)
		elseif current ~= id then
			redis.call('ZREM', KEYS[1], id)
			redis.call('DEL', jobKey)
		end
	end
end
return requeued
`)
