package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/festnoze/squad-ai-sub000/pkg/agents"
	"github.com/festnoze/squad-ai-sub000/pkg/connection"
	"github.com/festnoze/squad-ai-sub000/pkg/logging"
	"github.com/festnoze/squad-ai-sub000/pkg/metrics"
	"github.com/festnoze/squad-ai-sub000/pkg/outgoing"
	"github.com/festnoze/squad-ai-sub000/pkg/rag"
	"github.com/festnoze/squad-ai-sub000/pkg/session"
	"github.com/festnoze/squad-ai-sub000/pkg/trace"
	"github.com/festnoze/squad-ai-sub000/pkg/turn"
	"github.com/festnoze/squad-ai-sub000/pkg/vad"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// call is the runtime of one phone call.
type call struct {
	o      *Orchestrator
	conn   connection.Connection
	st     *session.State
	logger *zap.Logger
	labels metrics.Labels

	out        *outgoing.Manager
	speaker    *speaker
	detector   *vad.Detector
	classifier vad.FrameClassifier
	turns      *turn.Manager

	utterances chan []byte

	// span is the call's root span, set before the goroutines start.
	span oteltrace.Span

	// welcomed is only touched by the worker.
	welcomed bool

	mu   sync.Mutex
	flag *rag.InterruptFlag
}

func (o *Orchestrator) newCall(ctx context.Context, conn connection.Connection, start connection.Event) *call {
	st := session.New(start.CallSid, o.callerPhone(ctx, start))
	st.StreamSid = start.StreamSid
	logger := logging.ForCall(o.logger, start.CallSid, start.StreamSid)
	labels := metrics.Labels{CallSid: start.CallSid, StreamSid: start.StreamSid}

	var classifier vad.FrameClassifier
	if o.deps.NewFrameClassifier != nil {
		fc, err := o.deps.NewFrameClassifier()
		if err != nil {
			logger.Warn("frame classifier unavailable, using energy only", zap.Error(err))
		} else {
			classifier = fc
		}
	}

	turns := turn.NewManager(o.cfg.Turn, logger)
	out := outgoing.NewManager(conn, o.deps.Synthesizer, o.cfg.Audio, logger, outgoing.WithLatency(o.deps.Latency, labels))
	c := &call{
		o:          o,
		conn:       conn,
		st:         st,
		logger:     logger,
		labels:     labels,
		out:        out,
		speaker:    &speaker{out: out, turns: turns, music: o.cfg.HoldMusic},
		detector:   vad.NewDetector(o.cfg.VAD, classifier, logger),
		classifier: classifier,
		turns:      turns,
		utterances: make(chan []byte, o.cfg.UtteranceQueue),
	}
	turns.OnInterrupt(c.onInterrupt)

	logger.Info("call started", logging.MaskPhone("caller", st.CallerPhone))
	return c
}

// run blocks until the call ends.
func (c *call) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	ctx, span := trace.InstrumentCall(ctx, c.st.CallSid, c.st.StreamSid)
	defer span.End()
	c.span = span
	c.logger = c.logger.With(trace.ZapFields(ctx)...)

	if obs := c.o.deps.Observer; obs != nil {
		obs.CallStarted()
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.converse(ctx)
	}()

	err := c.listen(ctx)

	// hang-up: abandon the current turn
	cancel()
	close(c.utterances)
	wg.Wait()
	c.close(err)

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (c *call) close(err error) {
	c.out.Close()
	if c.classifier != nil {
		_ = c.classifier.Destroy()
	}
	if reg := c.o.deps.Registry; reg != nil {
		if derr := reg.Delete(context.Background(), c.st.CallSid); derr != nil {
			c.logger.Debug("registry cleanup failed", zap.Error(derr))
		}
	}

	outcome := "completed"
	switch sp := c.st.Scratchpad; {
	case err != nil && !errors.Is(err, context.Canceled):
		outcome = "error"
	case sp.Bool(session.KeyAppointmentCreated):
		outcome = "appointment"
	case sp.String(session.KeyLeadLastStatus) == session.LeadCaptured:
		outcome = "lead"
	}
	if obs := c.o.deps.Observer; obs != nil {
		obs.CallEnded(outcome)
	}
	c.logger.Info("call ended",
		zap.String("outcome", outcome),
		zap.Int("turns", c.st.Turns),
		zap.Duration("duration", time.Since(c.st.StartedAt)),
		zap.Error(err))
}

// listen consumes inbound events in arrival order. It returns nil when the
// provider stops the stream or the socket closes.
func (c *call) listen(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-c.conn.Events():
			if !ok {
				c.logger.Info("socket closed")
				return nil
			}
			switch ev.Type {
			case connection.EventMedia:
				if err := c.onAudio(ctx, ev.PCM); err != nil {
					return err
				}
			case connection.EventMark:
				c.out.OnMark(ev.Mark)
			case connection.EventDTMF:
				c.logger.Info("dtmf received", zap.String("digit", ev.Digit))
			case connection.EventStop:
				c.logger.Info("stream stopped by provider")
				return nil
			case connection.EventStart:
				c.logger.Warn("duplicate start event ignored", zap.String("stream_sid", ev.StreamSid))
			}
		}
	}
}

func (c *call) onAudio(ctx context.Context, pcm []byte) error {
	res := c.detector.Process(pcm, c.out.IsSpeaking())
	if res.Speech {
		c.turns.SpeechStarted()
	}
	if res.BargeIn {
		c.turns.BargeIn(fmt.Sprintf("caller energy %.0f", res.RMS))
	}
	if res.Utterance == nil {
		return nil
	}
	select {
	case c.utterances <- res.Utterance:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// onInterrupt runs on the listener goroutine when the caller barges in.
func (c *call) onInterrupt(ev turn.Interruption) {
	c.out.Interrupt()
	c.mu.Lock()
	flag := c.flag
	c.mu.Unlock()
	if flag != nil {
		flag.Interrupt()
	}
	if obs := c.o.deps.Observer; obs != nil {
		obs.BargeIn()
	}
	if c.span != nil {
		trace.AddEvent(c.span, "barge_in", attribute.Int("turn", ev.Turn), attribute.String("reason", ev.Reason))
	}
	c.logger.Info("barge-in", zap.Int("turn", ev.Turn), zap.Stringer("state", ev.State), zap.String("reason", ev.Reason))
}

// converse is the worker: the welcome, then one graph run per utterance.
func (c *call) converse(ctx context.Context) {
	c.turn(ctx, nil)
	for pcm := range c.utterances {
		if ctx.Err() != nil {
			return
		}
		c.turn(ctx, pcm)
	}
}

// turn transcribes pcm and runs the graph. A nil pcm is the opening turn.
func (c *call) turn(ctx context.Context, pcm []byte) {
	n := c.turns.UtteranceReady()
	defer c.turns.ResponseEnded(n)

	ctx, span := trace.InstrumentTurn(ctx, c.st.CallSid)
	defer span.End()
	log := c.logger.With(zap.Int("turn", n)).With(trace.ZapFields(ctx)...)
	timer := c.o.deps.Latency.Start(metrics.OpTurn, "turn", c.labels)

	c.st.UserInput = ""
	if pcm != nil {
		text, ok := c.o.deps.Transcriber.Transcribe(ctx, pcm, c.labels)
		if !ok {
			log.Debug("no transcript, still listening", zap.Int("bytes", len(pcm)))
			return
		}
		log.Info("caller said", zap.String("text", text))
		c.st.UserInput = text
		c.st.AddUser(text)
		c.st.Turns++
	}

	t := &agents.Turn{State: c.st, Out: c.speaker, Interrupt: c.newFlag(n)}
	node, reply, err := c.runGraph(ctx, t)
	c.st.AddAssistant(reply)
	timer.With("node", node).Done(err)
	trace.SetAttributes(span, attribute.String(trace.AttrTurnNode, node))

	switch {
	case isInterruption(err):
		log.Info("turn interrupted", zap.String("node", node), zap.Int("spoken_chars", len(reply)))
	case err != nil && ctx.Err() == nil:
		trace.RecordError(span, err)
		log.Warn("turn failed", zap.String("node", node), zap.Error(err))
	}

	// keep the floor until the caller heard the answer, so that speaking
	// over it still counts as a barge-in
	if err := c.out.WaitUntilPlayed(ctx); err != nil && ctx.Err() == nil {
		log.Debug("wait for playback", zap.Error(err))
	}
	if c.o.afterTurn != nil {
		c.o.afterTurn(c.st)
	}
}

// newFlag arms a fresh interrupt flag for turn n and re-opens the audio
// queue closed by the previous barge-in.
func (c *call) newFlag(n int) *rag.InterruptFlag {
	flag := rag.NewInterruptFlag()
	c.mu.Lock()
	c.flag = flag
	c.mu.Unlock()
	c.out.ResetInterruption()
	c.speaker.begin(n)
	return flag
}

func isInterruption(err error) bool {
	return errors.Is(err, rag.ErrInterrupted) || errors.Is(err, outgoing.ErrInterrupted)
}
