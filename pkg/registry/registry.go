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

// Package registry is the process-wide table of live clients by identifier.
// It is a single-owner actor: every mutation flows through one mailbox, so
// evict-then-insert for an identifier is one serialized operation and no
// two admissions for the same id can interleave. There is never a window
// where an old and a new client are both reachable under one id.
package registry

import (
	"fmt"
	"time"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/turtacn/mqttx-go/pkg/metrics"
	"github.com/turtacn/mqttx-go/pkg/session"
)

const requestTimeout = 5 * time.Second

type registerCmd struct {
	id     string
	client *session.Client
}

type registerReply struct {
	evicted *session.Client
}

type lookupCmd struct{ id string }

type lookupReply struct{ client *session.Client }

// removeCmd removes the entry for id, but only when it still holds client.
// A stale remove from a displaced session must not take out its successor.
type removeCmd struct {
	id     string
	client *session.Client
}

type removeReply struct{ removed bool }

type countCmd struct{}

type registryActor struct {
	clients map[string]*session.Client
}

func (a *registryActor) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		a.clients = make(map[string]*session.Client)

	case *registerCmd:
		evicted := a.clients[msg.id]
		if evicted != nil {
			delete(a.clients, msg.id)
			evicted.Destroy()
		}
		a.clients[msg.id] = msg.client
		metrics.ConnectedClients.Set(float64(len(a.clients)))
		ctx.Respond(&registerReply{evicted: evicted})

	case *lookupCmd:
		ctx.Respond(&lookupReply{client: a.clients[msg.id]})

	case *removeCmd:
		current, ok := a.clients[msg.id]
		if ok && (msg.client == nil || current == msg.client) {
			delete(a.clients, msg.id)
			metrics.ConnectedClients.Set(float64(len(a.clients)))
			ctx.Respond(&removeReply{removed: true})
			return
		}
		ctx.Respond(&removeReply{removed: false})

	case *countCmd:
		ctx.Respond(len(a.clients))
	}
}

// Registry wraps the registry actor with a synchronous API.
type Registry struct {
	system *actor.ActorSystem
	pid    *actor.PID
}

// New spawns the registry actor on its own actor system.
func New() *Registry {
	system := actor.NewActorSystem()
	props := actor.PropsFromProducer(func() actor.Actor { return &registryActor{} })
	return &Registry{
		system: system,
		pid:    system.Root.Spawn(props),
	}
}

// Register installs client under id. Any previous holder of the id is
// evicted and destroyed first; it is returned so the caller can report the
// takeover.
func (r *Registry) Register(id string, client *session.Client) (*session.Client, error) {
	res, err := r.request(&registerCmd{id: id, client: client})
	if err != nil {
		return nil, err
	}
	return res.(*registerReply).evicted, nil
}

// Lookup returns the live client for id, if any.
func (r *Registry) Lookup(id string) (*session.Client, bool) {
	res, err := r.request(&lookupCmd{id: id})
	if err != nil {
		return nil, false
	}
	c := res.(*lookupReply).client
	return c, c != nil
}

// Remove deletes the entry for id if it still holds client. Passing a nil
// client removes unconditionally. It reports whether an entry was removed.
func (r *Registry) Remove(id string, client *session.Client) bool {
	res, err := r.request(&removeCmd{id: id, client: client})
	if err != nil {
		return false
	}
	return res.(*removeReply).removed
}

// Count returns the number of live clients. It is always consistent with
// the table because both are maintained by the same actor message.
func (r *Registry) Count() int {
	res, err := r.request(&countCmd{})
	if err != nil {
		return 0
	}
	return res.(int)
}

// Close stops the registry actor and waits for it to terminate.
func (r *Registry) Close() {
	r.system.Root.StopFuture(r.pid).Wait()
}

func (r *Registry) request(msg any) (any, error) {
	res, err := r.system.Root.RequestFuture(r.pid, msg, requestTimeout).Result()
	if err != nil {
		return nil, fmt.Errorf("registry request failed: %w", err)
	}
	return res, nil
}
