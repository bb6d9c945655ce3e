package queue

import "github.com/redis/go-redis/v9"

// ScriptResult tags the outcome of an atomic transition script. Callers
// switch on Tag rather than distinguishing Redis errors from business
// outcomes — only transport failures surface as Go errors.
type ScriptResult struct {
	Tag   string
	JobID string
	// Aux is a slot for a transition-specific secondary value; no script
	// wrapper in this package sets it (PromoteDelayed, ReclaimStalled and
	// the rate limiter return their counts directly).
	Aux []int64
}

const (
	tagOK         = "ok"
	tagEmpty      = "empty"
	tagPaused     = "paused"
	tagDuplicated = "duplicated"
	tagLockLost   = "lock_lost"
	tagNotFound   = "not_found"
	tagRetry      = "retry"
	tagTerminal   = "terminal"
	tagLimited    = "limited"
)

// Scripts holds every atomic transition as a registered redis.Script.
// Each is EVALSHA'd after first load, the same register-once pattern
// DistributedQ uses for its rate limiter and lock scripts.
type Scripts struct {
	Enqueue        *redis.Script
	Reserve        *redis.Script
	ExtendLock     *redis.Script
	Complete       *redis.Script
	Fail           *redis.Script
	Remove         *redis.Script
	PromoteDelayed *redis.Script
	ReclaimStalled *redis.Script
	RateLimit      *redis.Script
}

// NewScripts constructs the script set. Scripts are registered lazily
// by go-redis (EVALSHA with fallback to EVAL on NOSCRIPT); there is no
// separate "load" step required at construction.
func NewScripts() *Scripts {
	return &Scripts{
		Enqueue:        redis.NewScript(enqueueScript),
		Reserve:        redis.NewScript(reserveScript),
		ExtendLock:     redis.NewScript(extendLockScript),
		Complete:       redis.NewScript(completeScript),
		Fail:           redis.NewScript(failScript),
		Remove:         redis.NewScript(removeScript),
		PromoteDelayed: redis.NewScript(promoteDelayedScript),
		ReclaimStalled: redis.NewScript(reclaimStalledScript),
		RateLimit:      redis.NewScript(rateLimitScript),
	}
}

// enqueueScript writes the job hash and places the id onto waiting,
// delayed, or dependency-wait depending on opts. Idempotent by job id:
// if the hash already exists, it is left untouched and 'duplicated' is
// returned.
//
// KEYS: 1=jobKey 2=waitingKey 3=delayedKey 4=dependencyWaitKey 5=eventsKey
// ARGV: 1=id 2=name 3=data 4=opts(json) 5=timestampMs 6=delayMs
//
//	7=lifo(0/1) 8=nowMs 9=jobKeyPrefix 10=depCount 11..=dependency ids
const enqueueScript = `
local jobKey = KEYS[1]
local waitingKey = KEYS[2]
local delayedKey = KEYS[3]
local depWaitKey = KEYS[4]
local eventsKey = KEYS[5]

local id = ARGV[1]
local name = ARGV[2]
local data = ARGV[3]
local opts = ARGV[4]
local timestamp = ARGV[5]
local delay = tonumber(ARGV[6])
local lifo = ARGV[7]
local now = ARGV[8]
local jobKeyPrefix = ARGV[9]
local depCount = tonumber(ARGV[10])

if redis.call('EXISTS', jobKey) == 1 then
	return {'duplicated', id}
end

redis.call('HSET', jobKey,
	'id', id, 'name', name, 'data', data, 'opts', opts,
	'timestamp', timestamp, 'delay', ARGV[6],
	'attempts_made', '0', 'progress', '0',
	'stacktrace', '', 'returnvalue', '',
	'finished_on', '', 'processed_on', '',
	'failed_reason', '', 'dependencies', '',
	'lock_token', '', 'status', '',
	'waiting_key', waitingKey, 'lifo', lifo, 'stalled_count', '0')

local deps = {}
for i = 1, depCount do
	deps[i] = ARGV[10 + i]
end

local unmetParent = false
if depCount > 0 then
	redis.call('HSET', jobKey, 'dependencies', table.concat(deps, ','))
	for i = 1, depCount do
		local parentID = deps[i]
		local parentKey = jobKeyPrefix .. parentID
		local parentStatus = redis.call('HGET', parentKey, 'status')
		if parentStatus ~= 'completed' then
			unmetParent = true
		end
		redis.call('SADD', jobKeyPrefix .. parentID .. ':dependents', id)
	end
end

local status
if delay > 0 then
	status = 'delayed'
	redis.call('ZADD', delayedKey, now + delay, id)
elseif unmetParent then
	status = 'dependency-wait'
	redis.call('SADD', depWaitKey, id)
else
	status = 'waiting'
	if lifo == '1' then
		redis.call('RPUSH', waitingKey, id)
	else
		redis.call('LPUSH', waitingKey, id)
	end
end

redis.call('HSET', jobKey, 'status', status)
redis.call('XADD', eventsKey, '*', 'event', 'added', 'jobId', id, 'ts', now)

return {'ok', id, status}
`

// reserveScript pops the highest-priority non-empty waiting list and
// moves the job to active, writing the lock and processedOn fields.
//
// KEYS: 1=pausedKey 2=activeKey 3=eventsKey
// ARGV: 1=numLevels 2..1+N=waitingKeys(highest first) 2+N=token
//
//	3+N=lockTTLms 4+N=nowMs 5+N=jobKeyPrefix 6+N=lockKeyPrefix
const reserveScript = `
if redis.call('EXISTS', KEYS[1]) == 1 then
	return {'paused'}
end

local n = tonumber(ARGV[1])
local token = ARGV[2 + n]
local lockTTL = ARGV[3 + n]
local now = ARGV[4 + n]
local jobKeyPrefix = ARGV[5 + n]
local lockKeyPrefix = ARGV[6 + n]

local id = nil
for i = 1, n do
	local popped = redis.call('RPOP', ARGV[1 + i])
	if popped then
		id = popped
		break
	end
end

if not id then
	return {'empty'}
end

local jobKey = jobKeyPrefix .. id
redis.call('HSET', jobKey, 'status', 'active', 'processed_on', now, 'lock_token', token)
redis.call('SET', lockKeyPrefix .. id, token, 'PX', lockTTL)
redis.call('SADD', KEYS[2], id)
redis.call('XADD', KEYS[3], '*', 'event', 'active', 'jobId', id, 'ts', now)

return {'ok', id}
`

// extendLockScript refreshes a reservation's TTL, but only while the
// caller still holds the fencing token.
//
// KEYS: 1=lockKey
// ARGV: 1=token 2=ttlMs
const extendLockScript = `
local cur = redis.call('GET', KEYS[1])
if cur == ARGV[1] then
	redis.call('PEXPIRE', KEYS[1], ARGV[2])
	return {'ok'}
end
return {'lost'}
`

// completeScript verifies the fencing token, retires the job to
// completed (or deletes its hash per removePolicy), and unblocks any
// dependents whose remaining parents are now all complete.
//
// KEYS: 1=jobKey 2=activeKey 3=completedKey 4=lockKey 5=eventsKey
//
//	6=dependentsKey 7=dependencyWaitKey
//
// ARGV: 1=token 2=returnvalue 3=nowMs 4=removeFlag(0/1) 5=keep
//
//	6=jobKeyPrefix
const completeScript = `
local jobKey = KEYS[1]
local activeKey = KEYS[2]
local completedKey = KEYS[3]
local lockKey = KEYS[4]
local eventsKey = KEYS[5]
local dependentsKey = KEYS[6]
local depWaitKey = KEYS[7]
local jobKeyPrefix = ARGV[6]

if redis.call('EXISTS', jobKey) == 0 then
	return {'not_found'}
end
local curToken = redis.call('HGET', jobKey, 'lock_token')
if curToken ~= ARGV[1] then
	return {'lock_lost'}
end

local id = redis.call('HGET', jobKey, 'id')
redis.call('SREM', activeKey, id)
redis.call('DEL', lockKey)
redis.call('HSET', jobKey, 'status', 'completed', 'finished_on', ARGV[3], 'returnvalue', ARGV[2])

local removeFlag = ARGV[4]
local keep = tonumber(ARGV[5])

if removeFlag == '1' and keep <= 0 then
	redis.call('DEL', jobKey)
else
	redis.call('LPUSH', completedKey, id)
	if removeFlag == '1' and keep > 0 then
		redis.call('LTRIM', completedKey, 0, keep - 1)
	end
end

redis.call('XADD', eventsKey, '*', 'event', 'completed', 'jobId', id, 'ts', ARGV[3])

local dependents = redis.call('SMEMBERS', dependentsKey)
for i = 1, #dependents do
	local depID = dependents[i]
	local depKey = jobKeyPrefix .. depID
	if redis.call('EXISTS', depKey) == 1 then
		local depStatus = redis.call('HGET', depKey, 'status')
		if depStatus == 'dependency-wait' then
			local deps = redis.call('HGET', depKey, 'dependencies')
			local allDone = true
			if deps and deps ~= '' then
				for parentID in string.gmatch(deps, '([^,]+)') do
					local pStatus = redis.call('HGET', jobKeyPrefix .. parentID, 'status')
					if pStatus ~= 'completed' then
						allDone = false
					end
				end
			end
			if allDone then
				redis.call('SREM', depWaitKey, depID)
				local wk = redis.call('HGET', depKey, 'waiting_key')
				local lifo = redis.call('HGET', depKey, 'lifo')
				if lifo == '1' then
					redis.call('RPUSH', wk, depID)
				else
					redis.call('LPUSH', wk, depID)
				end
				redis.call('HSET', depKey, 'status', 'waiting')
				redis.call('XADD', eventsKey, '*', 'event', 'waiting', 'jobId', depID, 'ts', ARGV[3])
			end
		end
	end
end

return {'ok', id}
`

// failScript verifies the fencing token, appends a bounded stacktrace
// entry, and either reschedules the job (waiting or delayed, per the
// precomputed backoff delay for this attempt) or retires it terminally
// to failed — cascading dependency_failed to any dependents still
// waiting on it.
//
// KEYS: 1=jobKey 2=activeKey 3=(unused) 4=delayedKey 5=failedKey
//
//	6=lockKey 7=eventsKey 8=dependentsKey 9=dependencyWaitKey
//
// ARGV: 1=token 2=reason 3=maxAttempts 4=nowMs 5=jobKeyPrefix
//
//	6=removeFlag 7=keep 8=delayCount 9..=delay values (ms) per attempt
const failScript = `
local jobKey = KEYS[1]
local activeKey = KEYS[2]
local delayedKey = KEYS[4]
local failedKey = KEYS[5]
local lockKey = KEYS[6]
local eventsKey = KEYS[7]
local dependentsKey = KEYS[8]
local depWaitKey = KEYS[9]

if redis.call('EXISTS', jobKey) == 0 then
	return {'not_found'}
end
local curToken = redis.call('HGET', jobKey, 'lock_token')
if curToken ~= ARGV[1] then
	return {'lock_lost'}
end

local id = redis.call('HGET', jobKey, 'id')
local maxAttempts = tonumber(ARGV[3])
local now = ARGV[4]
local jobKeyPrefix = ARGV[5]
local removeFlag = ARGV[6]
local keep = tonumber(ARGV[7])
local delayCount = tonumber(ARGV[8])

local st = redis.call('HGET', jobKey, 'stacktrace')
local list = {}
if st and st ~= '' then
	for item in string.gmatch(st, '([^\30]+)') do
		table.insert(list, item)
	end
end
table.insert(list, ARGV[2])
while #list > 10 do
	table.remove(list, 1)
end
redis.call('HSET', jobKey, 'stacktrace', table.concat(list, '\30'))

local attemptsMade = redis.call('HINCRBY', jobKey, 'attempts_made', 1)

redis.call('SREM', activeKey, id)
redis.call('DEL', lockKey)

if attemptsMade < maxAttempts then
	local idx = attemptsMade
	if idx > delayCount then idx = delayCount end
	local delayMs = tonumber(ARGV[9 + idx])
	redis.call('HSET', jobKey, 'failed_reason', ARGV[2])
	if delayMs and delayMs > 0 then
		redis.call('HSET', jobKey, 'status', 'delayed')
		redis.call('ZADD', delayedKey, tonumber(now) + delayMs, id)
		redis.call('XADD', eventsKey, '*', 'event', 'delayed', 'jobId', id, 'ts', now, 'failedReason', ARGV[2])
	else
		local wk = redis.call('HGET', jobKey, 'waiting_key')
		local lifo = redis.call('HGET', jobKey, 'lifo')
		redis.call('HSET', jobKey, 'status', 'waiting')
		if lifo == '1' then
			redis.call('RPUSH', wk, id)
		else
			redis.call('LPUSH', wk, id)
		end
		redis.call('XADD', eventsKey, '*', 'event', 'waiting', 'jobId', id, 'ts', now, 'failedReason', ARGV[2])
	end
	return {'retry', id}
end

redis.call('HSET', jobKey, 'status', 'failed', 'finished_on', now, 'failed_reason', ARGV[2])
if removeFlag == '1' and keep <= 0 then
	redis.call('DEL', jobKey)
else
	redis.call('LPUSH', failedKey, id)
	if removeFlag == '1' and keep > 0 then
		redis.call('LTRIM', failedKey, 0, keep - 1)
	end
end
redis.call('XADD', eventsKey, '*', 'event', 'failed', 'jobId', id, 'ts', now, 'failedReason', ARGV[2])

local dependents = redis.call('SMEMBERS', dependentsKey)
for i = 1, #dependents do
	local depID = dependents[i]
	local depKey = jobKeyPrefix .. depID
	if redis.call('EXISTS', depKey) == 1 then
		local depStatus = redis.call('HGET', depKey, 'status')
		if depStatus == 'dependency-wait' then
			redis.call('SREM', depWaitKey, depID)
			redis.call('HSET', depKey, 'status', 'failed', 'finished_on', now, 'failed_reason', 'dependency_failed')
			redis.call('LPUSH', failedKey, depID)
			redis.call('XADD', eventsKey, '*', 'event', 'failed', 'jobId', depID, 'ts', now, 'failedReason', 'dependency_failed')
		end
	end
end

return {'terminal', id}
`

// promoteDelayedScript moves up to batchSize ready jobs (score <= now)
// from delayed to their waiting list. Safe under concurrent schedulers:
// the ZRANGEBYSCORE + ZREM pair runs inside one EVAL per process, and
// Redis's single-threaded execution serializes concurrent callers.
//
// KEYS: 1=delayedKey 2=eventsKey
// ARGV: 1=nowMs 2=batchSize 3=jobKeyPrefix
const promoteDelayedScript = `
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
local moved = 0
for i = 1, #ids do
	local id = ids[i]
	redis.call('ZREM', KEYS[1], id)
	local jobKey = ARGV[3] .. id
	if redis.call('EXISTS', jobKey) == 1 then
		local wk = redis.call('HGET', jobKey, 'waiting_key')
		local lifo = redis.call('HGET', jobKey, 'lifo')
		redis.call('HSET', jobKey, 'status', 'waiting')
		if lifo == '1' then
			redis.call('RPUSH', wk, id)
		else
			redis.call('LPUSH', wk, id)
		end
		redis.call('XADD', KEYS[2], '*', 'event', 'waiting', 'jobId', id, 'ts', ARGV[1])
		moved = moved + 1
	end
end
return {'ok', moved}
`

// reclaimStalledScript scans active for jobs whose lock key has
// expired. A job under maxRetries stalled reclaims are returned to
// waiting; beyond that they terminate in failed with reason "stalled".
//
// KEYS: 1=activeKey 2=failedKey 3=eventsKey
// ARGV: 1=nowMs 2=maxRetries 3=jobKeyPrefix 4=lockKeyPrefix
const reclaimStalledScript = `
local ids = redis.call('SMEMBERS', KEYS[1])
local reclaimed = 0
local failedCount = 0
for i = 1, #ids do
	local id = ids[i]
	local lockKey = ARGV[4] .. id
	if redis.call('EXISTS', lockKey) == 0 then
		local jobKey = ARGV[3] .. id
		if redis.call('EXISTS', jobKey) == 1 then
			redis.call('SREM', KEYS[1], id)
			local stalledCount = redis.call('HINCRBY', jobKey, 'stalled_count', 1)
			if stalledCount > tonumber(ARGV[2]) then
				redis.call('HSET', jobKey, 'status', 'failed', 'finished_on', ARGV[1], 'failed_reason', 'stalled')
				redis.call('LPUSH', KEYS[2], id)
				redis.call('XADD', KEYS[3], '*', 'event', 'failed', 'jobId', id, 'ts', ARGV[1], 'failedReason', 'stalled')
				failedCount = failedCount + 1
			else
				local wk = redis.call('HGET', jobKey, 'waiting_key')
				redis.call('HSET', jobKey, 'status', 'waiting', 'lock_token', '')
				redis.call('LPUSH', wk, id)
				redis.call('XADD', KEYS[3], '*', 'event', 'stalled', 'jobId', id, 'ts', ARGV[1])
				reclaimed = reclaimed + 1
			end
		else
			redis.call('SREM', KEYS[1], id)
		end
	end
end
return {'ok', reclaimed, failedCount}
`

// rateLimitScript implements a fixed-window counter: the first
// increment inside a window sets its expiry, subsequent callers share
// it. Returned 'ok' carries the remaining budget; 'limited' carries
// the window's remaining TTL as the caller's retryAfterMs.
//
// KEYS: 1=limitKey
// ARGV: 1=max 2=windowMs
const rateLimitScript = `
local count = redis.call('INCR', KEYS[1])
if count == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
	ttl = tonumber(ARGV[2])
	redis.call('PEXPIRE', KEYS[1], ttl)
end
local max = tonumber(ARGV[1])
if count > max then
	return {'limited', ttl}
end
return {'ok', max - count, ttl}
`

// removeScript deletes a job from every status container and its
// hash, then unblocks any dependent still in dependency-wait as if
// the removed job had completed - a missing parent key reads the same
// as a completed one when a dependent checks whether all of its
// parents are done, matching completeScript's dependents-scan
// (scripts.go's completeScript, above) but tolerating the parent's own
// key already being gone.
//
// KEYS: 1=jobKey 2=activeKey 3=delayedKey 4=completedKey 5=failedKey
//
//	6=dependencyWaitKey 7=lockKey 8=dependentsKey 9=eventsKey
//
// ARGV: 1=id 2=jobKeyPrefix 3=nowMs 4=n(waiting key count) 5..=waiting keys
const removeScript = `
local jobKey = KEYS[1]
local activeKey = KEYS[2]
local delayedKey = KEYS[3]
local completedKey = KEYS[4]
local failedKey = KEYS[5]
local depWaitKey = KEYS[6]
local lockKey = KEYS[7]
local dependentsKey = KEYS[8]
local eventsKey = KEYS[9]

local id = ARGV[1]
local jobKeyPrefix = ARGV[2]
local now = ARGV[3]
local n = tonumber(ARGV[4])

if redis.call('EXISTS', jobKey) == 0 then
	return {'not_found'}
end

local dependents = redis.call('SMEMBERS', dependentsKey)

for i = 1, n do
	redis.call('LREM', ARGV[4 + i], 0, id)
end
redis.call('SREM', activeKey, id)
redis.call('ZREM', delayedKey, id)
redis.call('LREM', completedKey, 0, id)
redis.call('LREM', failedKey, 0, id)
redis.call('SREM', depWaitKey, id)
redis.call('DEL', lockKey)
redis.call('DEL', dependentsKey)
redis.call('DEL', jobKey)

for i = 1, #dependents do
	local depID = dependents[i]
	local depKey = jobKeyPrefix .. depID
	if redis.call('EXISTS', depKey) == 1 then
		local depStatus = redis.call('HGET', depKey, 'status')
		if depStatus == 'dependency-wait' then
			local deps = redis.call('HGET', depKey, 'dependencies')
			local allDone = true
			if deps and deps ~= '' then
				for parentID in string.gmatch(deps, '([^,]+)') do
					local pKey = jobKeyPrefix .. parentID
					if redis.call('EXISTS', pKey) == 1 then
						local pStatus = redis.call('HGET', pKey, 'status')
						if pStatus ~= 'completed' then
							allDone = false
						end
					end
				end
			end
			if allDone then
				redis.call('SREM', depWaitKey, depID)
				local wk = redis.call('HGET', depKey, 'waiting_key')
				local lifo = redis.call('HGET', depKey, 'lifo')
				if lifo == '1' then
					redis.call('RPUSH', wk, depID)
				else
					redis.call('LPUSH', wk, depID)
				end
				redis.call('HSET', depKey, 'status', 'waiting')
				redis.call('XADD', eventsKey, '*', 'event', 'waiting', 'jobId', depID, 'ts', now)
			end
		end
	end
end

return {'ok', id}
`
