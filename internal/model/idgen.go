package model

import (
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// IDGenerator produces globally unique ids of the form
// <instance>-<ms-epoch>-<index>-<rand>, unique across concurrent producers
// sharing the same durable store.
type IDGenerator struct {
	instance string
	counter  atomic.Int64
}

// NewIDGenerator derives the instance segment from the process id and the
// process start time, matching the pid-startEpoch shape.
func NewIDGenerator() *IDGenerator {
	return &IDGenerator{instance: fmt.Sprintf("%d-%d", os.Getpid(), time.Now().UnixMilli())}
}

// Instance returns this process's instance id, used for recovery claims.
func (g *IDGenerator) Instance() string {
	return g.instance
}

// Next returns a new id stamped with nowMs.
func (g *IDGenerator) Next(nowMs int64) string {
	idx := g.counter.Add(1)
	return fmt.Sprintf("%s-%d-%d-%s", g.instance, nowMs, idx, shortRand())
}

func shortRand() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
