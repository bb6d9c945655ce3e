// Package keyspace namespaces Redis keys for a single named queue and
// provides the string<->hash codec used for job records.
package keyspace

import "strings"

// Keys builds and caches every Redis key a queue needs, following the
// teacher's pattern of pre-computing static keys once instead of
// concatenating strings on every call.
type Keys struct {
	prefix string
	name   string

	active          string
	delayed         string
	completed       string
	failed          string
	dependencyWait  string
	paused          string
	events          string
	limitPrefix     string
	waitingPrefix   string
}

// New builds a Keys for the given prefix ("bananas") and queue name.
func New(prefix, name string) *Keys {
	base := prefix + ":" + name + ":"
	return &Keys{
		prefix:         prefix,
		name:           name,
		active:         base + "active",
		delayed:        base + "delayed",
		completed:      base + "completed",
		failed:         base + "failed",
		dependencyWait: base + "dependency-wait",
		paused:         base + "paused",
		events:         base + "events",
		limitPrefix:    base + "limit:",
		waitingPrefix:  base + "waiting:",
	}
}

// Name returns the queue name this Keys was built for.
func (k *Keys) Name() string { return k.name }

// Waiting returns the waiting-list key for a priority level.
func (k *Keys) Waiting(priority int) string {
	var b strings.Builder
	b.Grow(len(k.waitingPrefix) + 4)
	b.WriteString(k.waitingPrefix)
	writeInt(&b, priority)
	return b.String()
}

func (k *Keys) Active() string         { return k.active }
func (k *Keys) Delayed() string        { return k.delayed }
func (k *Keys) Completed() string      { return k.completed }
func (k *Keys) Failed() string         { return k.failed }
func (k *Keys) DependencyWait() string { return k.dependencyWait }
func (k *Keys) Paused() string         { return k.paused }
func (k *Keys) Events() string         { return k.events }

// Job returns the hash key for a given job id.
func (k *Keys) Job(id string) string {
	var b strings.Builder
	b.Grow(len(k.prefix) + len(k.name) + len(id) + 6)
	b.WriteString(k.prefix)
	b.WriteByte(':')
	b.WriteString(k.name)
	b.WriteString(":job:")
	b.WriteString(id)
	return b.String()
}

// Dependents returns the set key tracking who depends on id.
func (k *Keys) Dependents(id string) string {
	return k.Job(id) + ":dependents"
}

// Lock returns the distributed-lock key for an arbitrary resource name
// (job ids, schedule ids, user resources all share this namespace).
func (k *Keys) Lock(resource string) string {
	var b strings.Builder
	b.Grow(len(k.prefix) + len(resource) + 6)
	b.WriteString(k.prefix)
	b.WriteString(":lock:")
	b.WriteString(resource)
	return b.String()
}

// Limit returns the rate-limit window key for a discriminator
// ("" for the queue-wide limiter).
func (k *Keys) Limit(discriminator string) string {
	if discriminator == "" {
		return k.limitPrefix + "default"
	}
	return k.limitPrefix + discriminator
}

func writeInt(b *strings.Builder, v int) {
	if v == 0 {
		b.WriteByte('0')
		return
	}
	var buf [8]byte
	i := len(buf)
	n := v
	neg := n < 0
	if neg {
		n = -n
	}
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	b.Write(buf[i:])
}
