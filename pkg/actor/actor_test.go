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

package actor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMailboxPreservesOrder(t *testing.T) {
	mb := NewMailbox(10)
	for i := 0; i < 5; i++ {
		mb.Send(i)
	}

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		msg, err := mb.Receive(ctx)
		require.NoError(t, err)
		assert.Equal(t, i, msg)
	}
}

func TestMailboxReceiveCanceled(t *testing.T) {
	mb := NewMailbox(1)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	msg, err := mb.Receive(ctx)
	assert.Nil(t, msg)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMailboxSendCtxDelivers(t *testing.T) {
	mb := NewMailbox(1)
	require.NoError(t, mb.SendCtx(context.Background(), "msg"))

	msg, err := mb.Receive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "msg", msg)
}

func TestMailboxSendCtxCanceledWhileFull(t *testing.T) {
	mb := NewMailbox(1)
	mb.Send("occupant")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := mb.SendCtx(ctx, "stuck")
	assert.ErrorIs(t, err, context.Canceled)

	msg, rerr := mb.Receive(context.Background())
	require.NoError(t, rerr)
	assert.Equal(t, "occupant", msg)
	assert.Zero(t, len(mb.Chan()), "the rejected message was never buffered")
}

func TestMailboxTrySendFull(t *testing.T) {
	mb := NewMailbox(1)
	assert.True(t, mb.TrySend("first"))
	assert.False(t, mb.TrySend("second"))

	msg, err := mb.Receive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "first", msg)
	assert.True(t, mb.TrySend("second"))
}

func TestMailboxConcurrentSenders(t *testing.T) {
	mb := NewMailbox(100)
	for i := 0; i < 100; i++ {
		go mb.Send(i)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	seen := make(map[any]bool)
	for i := 0; i < 100; i++ {
		msg, err := mb.Receive(ctx)
		require.NoError(t, err)
		seen[msg] = true
	}
	assert.Len(t, seen, 100)
}
