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

// Package actor provides the mailbox primitive behind every per-connection
// sequential task. A connection's reader goroutine and its authorization
// callbacks both post into the same mailbox, so the owning task observes
// packets and hook completions in one strict order.
package actor

import "context"

// Actor is a process that consumes messages from a mailbox until its
// context is canceled. Start blocks for the lifetime of the actor and
// returns the reason it stopped.
type Actor interface {
	Start(ctx context.Context, mb *Mailbox) error
}

// Mailbox is a buffered, ordered message queue. Messages posted by
// concurrent senders are received one at a time by a single consumer,
// which is what serializes a connection's state machine.
type Mailbox struct {
	messages chan any
}

// NewMailbox creates a mailbox with the given buffer capacity.
func NewMailbox(size int) *Mailbox {
	return &Mailbox{messages: make(chan any, size)}
}

// Send posts a message, blocking while the buffer is full. Senders that
// must not block should use TrySend instead.
func (mb *Mailbox) Send(msg any) {
	mb.messages <- msg
}

// SendCtx posts a message, blocking while the buffer is full until the
// context is canceled. It returns the context error when the message was
// not accepted, so a sender never outlives its consumer.
func (mb *Mailbox) SendCtx(ctx context.Context, msg any) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case mb.messages <- msg:
		return nil
	}
}

// TrySend posts a message unless the buffer is full, and reports whether
// the message was accepted.
func (mb *Mailbox) TrySend(msg any) bool {
	select {
	case mb.messages <- msg:
		return true
	default:
		return false
	}
}

// Receive blocks until a message arrives or the context is canceled.
func (mb *Mailbox) Receive(ctx context.Context) (any, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case msg := <-mb.messages:
		return msg, nil
	}
}

// Chan exposes the underlying channel for callers that need to select
// over several sources at once.
func (mb *Mailbox) Chan() <-chan any {
	return mb.messages
}
