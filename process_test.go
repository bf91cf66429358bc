//go:build linux && (amd64 || arm64)

/*
 *
 * Copyright 2025 The Pika Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

package pika

import (
	"fmt"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/kevinjoseph1995/pika/status"
)

// The inter-process tests re-exec the test binary so producer and
// consumer genuinely live in different processes. The child recognizes
// itself through these environment variables.
const (
	childRoleEnv    = "PIKA_TEST_CHILD_ROLE"
	childChannelEnv = "PIKA_TEST_CHANNEL"
)

const interProcessCount = 1000

func interProcessParams(name string) ChannelParameters {
	return ChannelParameters{
		Name:      name,
		QueueSize: 16,
		Type:      InterProcess,
	}
}

// runChildConsumer is the re-exec'd consumer half of
// TestInterProcessTransfer.
func runChildConsumer(t *testing.T, name string) {
	c, err := CreateConsumer[uint64](interProcessParams(name))
	if err != nil {
		t.Fatalf("child: CreateConsumer failed: %v", err)
	}
	defer c.Close()

	if err := c.Connect(); err != nil {
		t.Fatalf("child: Connect failed: %v", err)
	}
	for i := uint64(0); i < interProcessCount; i++ {
		var got uint64
		if err := c.Receive(&got, 10*time.Second); err != nil {
			t.Fatalf("child: Receive failed at %d: %v", i, err)
		}
		if got != i {
			t.Fatalf("child: element %d received as %d", i, got)
		}
	}
}

func TestInterProcessTransfer(t *testing.T) {
	if os.Getenv(childRoleEnv) == "consumer" {
		runChildConsumer(t, os.Getenv(childChannelEnv))
		return
	}

	name := fmt.Sprintf("/pika_proc_test_%d_%d", os.Getpid(), time.Now().UnixNano())

	p, err := CreateProducer[uint64](interProcessParams(name))
	if err != nil {
		t.Fatalf("CreateProducer failed: %v", err)
	}
	defer p.Close()

	cmd := exec.Command(os.Args[0], "-test.run", "^TestInterProcessTransfer$")
	cmd.Env = append(os.Environ(),
		childRoleEnv+"=consumer",
		childChannelEnv+"="+name,
	)
	out := &bytesBuffer{}
	cmd.Stdout = out
	cmd.Stderr = out
	if err := cmd.Start(); err != nil {
		t.Fatalf("starting child process failed: %v", err)
	}

	if err := p.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	for i := uint64(0); i < interProcessCount; i++ {
		if err := p.Send(i, 10*time.Second); err != nil {
			cmd.Process.Kill()
			cmd.Wait()
			t.Fatalf("Send failed at %d: %v", i, err)
		}
	}

	if err := cmd.Wait(); err != nil {
		t.Fatalf("child process failed: %v\n%s", err, out.buf)
	}
}

// bytesBuffer is a minimal io.Writer; tests avoid pulling in bytes.Buffer
// goroutine-safety questions while both pipes write into it.
type bytesBuffer struct {
	buf []byte
}

func (b *bytesBuffer) Write(p []byte) (int, error) {
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func TestInterProcessLastHolderCleansUp(t *testing.T) {
	name := fmt.Sprintf("/pika_cleanup_test_%d", time.Now().UnixNano())
	params := interProcessParams(name)

	p, err := CreateProducer[uint64](params)
	if err != nil {
		t.Fatalf("CreateProducer failed: %v", err)
	}
	c, err := CreateConsumer[uint64](params)
	if err != nil {
		t.Fatalf("CreateConsumer failed: %v", err)
	}

	shmPath := "/dev/shm/" + name[1:]
	semPath := "/dev/shm/sem." + name[1:] + "_inter_process"
	if _, err := os.Stat(shmPath); err != nil {
		t.Fatalf("shared object %s missing while channel open: %v", shmPath, err)
	}
	if _, err := os.Stat(semPath); err != nil {
		t.Fatalf("semaphore %s missing while channel open: %v", semPath, err)
	}

	if err := p.Close(); err != nil {
		t.Fatalf("producer Close failed: %v", err)
	}
	// One endpoint remains; the name must survive.
	if _, err := os.Stat(shmPath); err != nil {
		t.Fatalf("shared object removed while consumer still attached: %v", err)
	}

	if err := c.Close(); err != nil {
		t.Fatalf("consumer Close failed: %v", err)
	}
	if _, err := os.Stat(shmPath); !os.IsNotExist(err) {
		t.Fatalf("shared object %s not removed by last endpoint: %v", shmPath, err)
	}
	if _, err := os.Stat(semPath); !os.IsNotExist(err) {
		t.Fatalf("semaphore %s not removed by last endpoint: %v", semPath, err)
	}
}

func TestInterProcessReattachAfterTeardown(t *testing.T) {
	name := fmt.Sprintf("/pika_reattach_test_%d", time.Now().UnixNano())
	params := interProcessParams(name)

	p, err := CreateProducer[uint64](params)
	if err != nil {
		t.Fatalf("CreateProducer failed: %v", err)
	}
	if err := p.Send(5, Infinite); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// The name was torn down, so a new open with different parameters must
	// succeed as a fresh channel.
	fresh := params
	fresh.QueueSize = 32
	p2, err := CreateProducer[uint64](fresh)
	if err != nil {
		t.Fatalf("CreateProducer after teardown failed: %v", err)
	}
	defer p2.Close()

	c, err := CreateConsumer[uint64](fresh)
	if err != nil {
		t.Fatalf("CreateConsumer failed: %v", err)
	}
	defer c.Close()

	var got uint64
	if err := c.Receive(&got, 50*time.Millisecond); !status.IsTimeout(err) {
		t.Fatalf("Receive on fresh channel: got %v, want Timeout; stale element leaked", err)
	}
}
