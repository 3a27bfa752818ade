// Copyright 2024 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package bench

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/iotflow/iotflow/pkg/actor"
	"github.com/iotflow/iotflow/pkg/cmd/util"
	"github.com/iotflow/iotflow/pkg/logutil"
	"github.com/iotflow/iotflow/pkg/workerpool"
	"github.com/pingcap/errors"
	"github.com/spf13/cobra"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"
)

const benchDispatcher = "bench"

// options defines flags for the `bench` command.
type options struct {
	actors     int
	messages   int
	workers    int
	throughput int
	timeout    time.Duration
	logLevel   string
	json       bool
}

func newOptions() *options {
	return &options{}
}

func (o *options) addFlags(cmd *cobra.Command) {
	cmd.Flags().IntVar(&o.actors, "actors", 1000, "number of actors")
	cmd.Flags().IntVar(&o.messages, "messages", 1000, "number of messages sent to each actor")
	cmd.Flags().IntVar(&o.workers, "workers", 0, "number of dispatcher workers, 0 means GOMAXPROCS")
	cmd.Flags().IntVar(&o.throughput, "throughput", 5, "max messages an actor processes per scheduling")
	cmd.Flags().DurationVar(&o.timeout, "timeout", 5*time.Minute, "abort the run after timeout")
	cmd.Flags().StringVar(&o.logLevel, "log-level", "warn", "log level (etc: debug|info|warn|error)")
	cmd.Flags().BoolVar(&o.json, "json", false, "print the result in JSON format")
}

func (o *options) validate() error {
	if o.actors <= 0 || o.messages <= 0 {
		return errors.New("actors and messages must be positive")
	}
	return nil
}

type benchMsg struct {
	seq int
}

func (*benchMsg) MsgType() actor.MsgType {
	return "BENCH"
}

// counterActor checks its messages arrive in the order they are sent.
type counterActor struct {
	next       int
	total      int
	outOfOrder *atomic.Int64
	done       func()
}

func (a *counterActor) Process(_ actor.Context, msg actor.Msg) error {
	m := msg.(*benchMsg)
	if m.seq != a.next {
		a.outOfOrder.Inc()
	}
	a.next = m.seq + 1
	if a.next == a.total {
		a.done()
	}
	return nil
}

type summary struct {
	Actors     int     `json:"actors"`
	Messages   int64   `json:"messages"`
	Elapsed    string  `json:"elapsed"`
	Throughput float64 `json:"throughput"`
	OutOfOrder int64   `json:"out_of_order"`
}

type result struct {
	actors     int
	messages   int64
	elapsed    time.Duration
	outOfOrder int64
}

func (r *result) rate() float64 {
	if r.elapsed <= 0 {
		return 0
	}
	return float64(r.messages) / r.elapsed.Seconds()
}

// runBench sends o.messages messages to each of o.actors actors and waits
// until all of them are processed.
func runBench(ctx context.Context, o *options) (*result, error) {
	settings := actor.DefaultSettings()
	settings.ActorThroughput = o.throughput
	system := actor.NewSystem(settings)
	defer system.Stop()
	if err := system.CreateDispatcher(benchDispatcher, workerpool.NewPool(benchDispatcher, o.workers)); err != nil {
		return nil, errors.Trace(err)
	}

	var wg sync.WaitGroup
	outOfOrder := atomic.NewInt64(0)
	refs := make([]actor.Ref, 0, o.actors)
	for i := 0; i < o.actors; i++ {
		wg.Add(1)
		id := actor.NewNamedID("bench-" + strconv.Itoa(i))
		ref, err := system.CreateRootActor(benchDispatcher, actor.NewCreator(id, func() (actor.Actor, error) {
			return &counterActor{total: o.messages, outOfOrder: outOfOrder, done: wg.Done}, nil
		}))
		if err != nil {
			return nil, errors.Trace(err)
		}
		refs = append(refs, ref)
	}

	start := time.Now()
	var g errgroup.Group
	for _, ref := range refs {
		ref := ref
		g.Go(func() error {
			for seq := 0; seq < o.messages; seq++ {
				ref.Tell(&benchMsg{seq: seq})
			}
			return nil
		})
	}
	_ = g.Wait()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return nil, errors.Trace(ctx.Err())
	}

	return &result{
		actors:     o.actors,
		messages:   int64(o.actors) * int64(o.messages),
		elapsed:    time.Since(start),
		outOfOrder: outOfOrder.Load(),
	}, nil
}

func (o *options) run(cmd *cobra.Command) error {
	ctx, cancel := util.InitCmd(cmd, &logutil.Config{Level: o.logLevel})
	defer cancel()
	ctx, cancel = context.WithTimeout(ctx, o.timeout)
	defer cancel()

	res, err := runBench(ctx, o)
	if err != nil {
		return err
	}
	if o.json {
		err = util.JSONPrint(cmd, &summary{
			Actors:     res.actors,
			Messages:   res.messages,
			Elapsed:    res.elapsed.String(),
			Throughput: res.rate(),
			OutOfOrder: res.outOfOrder,
		})
		if err != nil {
			return errors.Trace(err)
		}
	} else {
		cmd.Printf("actors:     %s\n", humanize.Comma(int64(res.actors)))
		cmd.Printf("messages:   %s\n", humanize.Comma(res.messages))
		cmd.Printf("elapsed:    %s\n", res.elapsed)
		cmd.Printf("throughput: %s msg/s\n", humanize.Commaf(float64(int64(res.rate()))))
	}
	if res.outOfOrder > 0 {
		return errors.Errorf("%d messages are processed out of order", res.outOfOrder)
	}
	return nil
}

// NewCmdBench creates the `bench` command.
func NewCmdBench() *cobra.Command {
	o := newOptions()

	command := &cobra.Command{
		Use:   "bench",
		Short: "Measure the message throughput of the actor system",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.validate(); err != nil {
				return err
			}
			return o.run(cmd)
		},
	}
	o.addFlags(command)

	return command
}
