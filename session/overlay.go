// mrtchat - peer-to-peer chat substrate
// Copyright (C) 2025 sage-x-project
//
// This file is part of mrtchat.
//
// mrtchat is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// mrtchat is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with mrtchat. If not, see <https://www.gnu.org/licenses/>.

package session

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sage-x-project/mrtchat/errs"
	"github.com/sage-x-project/mrtchat/internal/futures"
	"github.com/sage-x-project/mrtchat/internal/logger"
)

// Handler answers one question topic. The returned value is marshalled
// as the answer payload.
type Handler func(ctx context.Context, content json.RawMessage, sender string) (interface{}, error)

// HandlerRegistry maps question topics to handlers. One registry is
// shared by every session of a client.
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewHandlerRegistry creates an empty registry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: make(map[string]Handler)}
}

// Register binds topic to h, replacing any previous handler.
func (r *HandlerRegistry) Register(topic string, h Handler) {
	r.mu.Lock()
	r.handlers[topic] = h
	r.mu.Unlock()
}

// Lookup returns the handler for topic, or nil.
func (r *HandlerRegistry) Lookup(topic string) Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handlers[topic]
}

// QuestionBody is the inner topic/content pair of a question.
type QuestionBody struct {
	Topic   string          `json:"topic"`
	Content json.RawMessage `json:"content"`
}

// Question is the wire form sent on the question channel.
type Question struct {
	N        uint64       `json:"n"`
	Question QuestionBody `json:"question"`
}

// AnswerMsg is the wire form sent on the answer channel, echoing the
// question it answers.
type AnswerMsg struct {
	N        uint64          `json:"n"`
	Answer   json.RawMessage `json:"answer"`
	Question QuestionBody    `json:"question"`
}

type pingMsg struct {
	N uint64 `json:"n"`
}

// Overlay is the request/response layer riding a session's question
// and answer channels, correlating answers by monotonically assigned
// id, plus the ping/pong latency probe.
type Overlay struct {
	s        *Session
	registry *HandlerRegistry
	log      logger.Logger

	counter     atomic.Uint64
	pingCounter atomic.Uint64
	answers     *futures.CorrelationTable[uint64, json.RawMessage]
	pongs       *futures.CorrelationTable[uint64, struct{}]
}

func newOverlay(s *Session, registry *HandlerRegistry) *Overlay {
	return &Overlay{
		s:        s,
		registry: registry,
		log:      s.log,
		answers:  futures.NewCorrelationTable[uint64, json.RawMessage](),
		pongs:    futures.NewCorrelationTable[uint64, struct{}](),
	}
}

// Ask sends a question with the given topic and content and blocks
// until the correlated answer arrives, the session closes, or ctx is
// done.
func (o *Overlay) Ask(ctx context.Context, topic string, content interface{}) (json.RawMessage, error) {
	if err := o.s.gate(ChannelQuestion, topic); err != nil {
		return nil, err
	}

	raw, err := json.Marshal(content)
	if err != nil {
		return nil, err
	}

	n := o.counter.Add(1)
	pending := o.answers.Add(n)

	q := Question{N: n, Question: QuestionBody{Topic: topic, Content: raw}}
	if err := o.s.send(ctx, ChannelQuestion, q); err != nil {
		o.answers.Resolve(n, nil)
		return nil, err
	}
	return pending.Await(ctx)
}

// PendingAnswers returns the number of questions still awaiting an
// answer.
func (o *Overlay) PendingAnswers() int { return o.answers.Len() }

// Ping sends a ping frame and returns the round-trip time once the
// remote's pong arrives.
func (o *Overlay) Ping(ctx context.Context) (time.Duration, error) {
	n := o.pingCounter.Add(1)
	pending := o.pongs.Add(n)
	start := time.Now()

	if err := o.s.Send(ctx, ChannelPing, pingMsg{N: n}); err != nil {
		o.pongs.Resolve(n, struct{}{})
		return 0, err
	}
	if _, err := pending.Await(ctx); err != nil {
		return 0, err
	}
	return time.Since(start), nil
}

func (o *Overlay) handleQuestion(data []byte) {
	var q Question
	if err := json.Unmarshal(data, &q); err != nil {
		o.log.Warn("overlay: dropping malformed question", logger.Error(err))
		return
	}

	h := o.registry.Lookup(q.Question.Topic)
	if h == nil {
		// No handler registered: drop the record, leaving the asker's
		// future pending until its session closes.
		o.log.Warn("overlay: no handler for question topic",
			logger.String("topic", q.Question.Topic),
			logger.String("sender", o.s.RemoteName()))
		return
	}

	go func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			select {
			case <-o.s.closedCh:
				cancel()
			case <-ctx.Done():
			}
		}()

		result, err := h(ctx, q.Question.Content, o.s.RemoteName())
		if err != nil {
			o.log.Warn("overlay: question handler failed",
				logger.String("topic", q.Question.Topic), logger.Error(err))
			return
		}
		raw, err := json.Marshal(result)
		if err != nil {
			o.log.Warn("overlay: marshal answer failed", logger.Error(err))
			return
		}
		if err := o.s.gate(ChannelAnswer, q.Question.Topic); err != nil {
			o.log.Warn("overlay: answer gated", logger.String("topic", q.Question.Topic), logger.Error(err))
			return
		}
		msg := AnswerMsg{N: q.N, Answer: raw, Question: q.Question}
		if err := o.s.send(ctx, ChannelAnswer, msg); err != nil {
			o.log.Warn("overlay: send answer failed", logger.Error(err))
		}
	}()
}

func (o *Overlay) handleAnswer(data []byte) {
	var a AnswerMsg
	if err := json.Unmarshal(data, &a); err != nil {
		o.log.Warn("overlay: dropping malformed answer", logger.Error(err))
		return
	}
	if !o.answers.Resolve(a.N, a.Answer) {
		o.log.Debug("overlay: answer with no pending question",
			logger.Any("n", a.N))
	}
}

// handlePing auto-replies on the pong channel with the same id.
func (o *Overlay) handlePing(data []byte) {
	var p pingMsg
	if err := json.Unmarshal(data, &p); err != nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), ChannelOpenDeadline)
		defer cancel()
		_ = o.s.send(ctx, ChannelPong, p)
	}()
}

func (o *Overlay) handlePong(data []byte) {
	var p pingMsg
	if err := json.Unmarshal(data, &p); err != nil {
		return
	}
	o.pongs.Resolve(p.N, struct{}{})
}

func (o *Overlay) cancelAll() {
	cancelErr := errs.New(errs.ChannelClosed, "session closed with correlations pending")
	o.answers.CancelAll(cancelErr)
	o.pongs.CancelAll(cancelErr)
}
