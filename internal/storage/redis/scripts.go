package redis

const (
	// consumeOverrideScript atomically rolls the override count into the
	// caller's period and takes one override if the limit allows.
	// Returns {taken (0|1), count}.
	consumeOverrideScript = `
local key = KEYS[1]             -- kblock:override

local period_start = ARGV[1]
local limit = tonumber(ARGV[2])

-- Start a fresh count when the period changed
local stored = redis.call('HGET', key, 'period_start')
if stored ~= period_start then
  redis.call('HSET', key, 'period_start', period_start, 'count', 0)
end

local count = tonumber(redis.call('HGET', key, 'count'))
if limit > 0 and count >= limit then
  return {0, count}
end

count = redis.call('HINCRBY', key, 'count', 1)
return {1, count}
`
)
