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

// package supervisor runs mailbox actors under a one-for-one restart
// strategy. The broker uses it for session writer actors: a crashed writer
// takes down only its own session's outbound path.
package supervisor

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/turtacn/mqttx-go/pkg/actor"
	"github.com/turtacn/mqttx-go/pkg/metrics"
)

// RestartStrategy selects when a terminated child is brought back.
type RestartStrategy int

const (
	// RestartPermanent always restarts the child.
	RestartPermanent RestartStrategy = iota
	// RestartTransient restarts the child only after an abnormal exit.
	RestartTransient
	// RestartTemporary never restarts the child.
	RestartTemporary
)

// restartBackoff spaces restarts of a crashing child.
const restartBackoff = time.Second

// Spec describes one supervised child.
type Spec struct {
	// ID identifies the child in logs and metrics.
	ID string
	// Actor is the supervised process.
	Actor actor.Actor
	// Restart selects the restart strategy.
	Restart RestartStrategy
	// Mailbox feeds the actor. The caller keeps the sending side.
	Mailbox *actor.Mailbox
}

// Supervisor starts and monitors child actors.
type Supervisor interface {
	StartChild(ctx context.Context, spec Spec)
}

// OneForOneSupervisor restarts each failed child independently.
type OneForOneSupervisor struct{}

// NewOneForOneSupervisor creates a one-for-one supervisor.
func NewOneForOneSupervisor() *OneForOneSupervisor {
	return &OneForOneSupervisor{}
}

// StartChild launches and monitors one child in its own goroutine.
func (s *OneForOneSupervisor) StartChild(ctx context.Context, spec Spec) {
	childCtx, cancel := context.WithCancel(ctx)
	go s.monitor(childCtx, cancel, spec)
}

func (s *OneForOneSupervisor) monitor(ctx context.Context, cancel context.CancelFunc, spec Spec) {
	defer cancel()

	for {
		var err error
		func() {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("actor %s panicked: %v", spec.ID, r)
				}
			}()
			err = spec.Actor.Start(ctx, spec.Mailbox)
		}()

		select {
		case <-ctx.Done():
			return
		default:
		}

		restart := spec.Restart == RestartPermanent ||
			(spec.Restart == RestartTransient && err != nil)
		if !restart {
			log.Printf("Actor %s terminated and will not be restarted: %v", spec.ID, err)
			return
		}

		metrics.SupervisorRestartsTotal.WithLabelValues(spec.ID).Inc()
		log.Printf("Restarting actor %s after: %v", spec.ID, err)
		time.Sleep(restartBackoff)
	}
}
