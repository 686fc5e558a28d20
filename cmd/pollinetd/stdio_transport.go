// Copyright (c) 2024 The pollinet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"bufio"
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"sync"
)

// stdioTransport is a adapters.BLETransport implementation that
// stands in for the real GATT stack: it reads newline-delimited,
// base64-encoded frames from stdin and writes outgoing frames to
// stdout the same way. Real BLE/GATT wiring is out of scope (§1); the
// host process is runnable standalone the same way the teacher always
// ships a cmd/ entrypoint for manual testing.
type stdioTransport struct {
	mu       sync.Mutex
	onRecv   func(frame []byte)
	onMTU    func(newMTU int)
	mtu      int
	writer   *bufio.Writer
}

func newStdioTransport(mtu int) *stdioTransport {
	return &stdioTransport{
		mtu:    mtu,
		writer: bufio.NewWriter(os.Stdout),
	}
}

func (t *stdioTransport) Send(ctx context.Context, frame []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	encoded := base64.StdEncoding.EncodeToString(frame)
	if _, err := fmt.Fprintln(t.writer, encoded); err != nil {
		return err
	}
	return t.writer.Flush()
}

func (t *stdioTransport) OnRecv(callback func(frame []byte)) {
	t.mu.Lock()
	t.onRecv = callback
	t.mu.Unlock()
}

func (t *stdioTransport) MTU() int { return t.mtu }

func (t *stdioTransport) OnMTUChange(callback func(newMTU int)) {
	t.mu.Lock()
	t.onMTU = callback
	t.mu.Unlock()
}

// run reads stdin line by line until EOF or ctx is cancelled,
// decoding each line as a frame and dispatching it to the registered
// OnRecv callback.
func (t *stdioTransport) run(ctx context.Context) {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line := scanner.Text()
		if line == "" {
			continue
		}
		frame, err := base64.StdEncoding.DecodeString(line)
		if err != nil {
			continue
		}

		t.mu.Lock()
		callback := t.onRecv
		t.mu.Unlock()
		if callback != nil {
			callback(frame)
		}
	}
}
