package errkind

import (
	"errors"
	"fmt"
	"net"
	"testing"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, Other},
		{"connection refused substring", errors.New("dial tcp: connection refused"), Transport},
		{"timeout substring", errors.New("i/o timeout"), Transport},
		{"offline queue", errors.New("stream not writable: offline queue"), Transport},
		{"database locked", errors.New("database is locked"), DurableTransient},
		{"sqlite busy", errors.New("SQLITE_BUSY: retry"), DurableTransient},
		{"net.Error wrapped", fmt.Errorf("enqueue: %w", fakeNetError{}), Transport},
		{"validation error", errors.New("invalid payload: missing location"), Other},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := Classify(c.err); got != c.want {
				t.Errorf("Classify(%v) = %v, want %v", c.err, got, c.want)
			}
		})
	}
}

func TestClassifyRecursesThroughWrapping(t *testing.T) {
	inner := errors.New("connection reset by peer")
	wrapped := fmt.Errorf("enqueue car: %w", fmt.Errorf("redis: %w", inner))
	if got := Classify(wrapped); got != Transport {
		t.Fatalf("want Transport through double wrap, got %v", got)
	}
}

type fakeNetError struct{}

func (fakeNetError) Error() string   { return "fake net error" }
func (fakeNetError) Timeout() bool   { return true }
func (fakeNetError) Temporary() bool { return true }

var _ net.Error = fakeNetError{}
