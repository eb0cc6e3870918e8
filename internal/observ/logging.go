package observ

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

var (
	logMu  sync.Mutex
	logOut io.Writer = os.Stdout
)

// SetLogOutput redirects the event stream and returns the previous writer.
// Tests point it at a buffer to assert on emitted events.
func SetLogOutput(w io.Writer) io.Writer {
	logMu.Lock()
	defer logMu.Unlock()
	prev := logOut
	logOut = w
	return prev
}

// Log emits one JSON line per event: the supplied fields plus ts and event.
func Log(event string, kv map[string]any) {
	line := make(map[string]any, len(kv)+2)
	for k, v := range kv {
		line[k] = v
	}
	line["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	line["event"] = event
	b, _ := json.Marshal(line)

	logMu.Lock()
	defer logMu.Unlock()
	fmt.Fprintln(logOut, string(b))
}
