// Copyright 2026 The mqttx-go Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/turtacn/mqttx-go/pkg/actor"
)

// countingActor exits immediately with a configurable error, counting its
// starts.
type countingActor struct {
	starts atomic.Int32
	err    error
}

func (a *countingActor) Start(ctx context.Context, mb *actor.Mailbox) error {
	a.starts.Add(1)
	return a.err
}

// blockingActor runs until canceled.
type blockingActor struct {
	started chan struct{}
}

func (a *blockingActor) Start(ctx context.Context, mb *actor.Mailbox) error {
	close(a.started)
	<-ctx.Done()
	return ctx.Err()
}

func TestTemporaryChildNotRestarted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	child := &countingActor{err: errors.New("boom")}
	NewOneForOneSupervisor().StartChild(ctx, Spec{
		ID:      "temporary",
		Actor:   child,
		Restart: RestartTemporary,
		Mailbox: actor.NewMailbox(1),
	})

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), child.starts.Load())
}

func TestTransientChildCleanExitNotRestarted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	child := &countingActor{}
	NewOneForOneSupervisor().StartChild(ctx, Spec{
		ID:      "transient-clean",
		Actor:   child,
		Restart: RestartTransient,
		Mailbox: actor.NewMailbox(1),
	})

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), child.starts.Load())
}

func TestCancelStopsChild(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	child := &blockingActor{started: make(chan struct{})}
	NewOneForOneSupervisor().StartChild(ctx, Spec{
		ID:      "blocking",
		Actor:   child,
		Restart: RestartPermanent,
		Mailbox: actor.NewMailbox(1),
	})

	select {
	case <-child.started:
	case <-time.After(time.Second):
		t.Fatal("child never started")
	}
	cancel()
	// The child exits with the context error and is not restarted.
	time.Sleep(100 * time.Millisecond)
}

func TestPanicIsRecovered(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	panicking := &panicActor{done: make(chan struct{})}
	NewOneForOneSupervisor().StartChild(ctx, Spec{
		ID:      "panicking",
		Actor:   panicking,
		Restart: RestartTemporary,
		Mailbox: actor.NewMailbox(1),
	})

	select {
	case <-panicking.done:
	case <-time.After(time.Second):
		t.Fatal("child never ran")
	}
	// The panic is contained; the test process survives.
	time.Sleep(50 * time.Millisecond)
}

type panicActor struct {
	done chan struct{}
}

func (a *panicActor) Start(ctx context.Context, mb *actor.Mailbox) error {
	close(a.done)
	panic("writer blew up")
}
