package proxy

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/howard-nolan/geminigate/internal/anthropic"
	"github.com/howard-nolan/geminigate/internal/auth"
	"github.com/howard-nolan/geminigate/internal/gemini"
	"github.com/howard-nolan/geminigate/internal/metrics"
	"github.com/howard-nolan/geminigate/internal/retry"
	"github.com/howard-nolan/geminigate/internal/signature"
	"github.com/howard-nolan/geminigate/internal/stream"
	"github.com/howard-nolan/geminigate/internal/translate"
)

// Pipeline runs one client request against the upstream: account
// selection, translation, the streaming call, and the converter, with
// the retry policy deciding what happens on upstream rejections.
type Pipeline struct {
	tokens     *auth.Manager
	upstream   *UpstreamClient
	mapper     *translate.ModelMapper
	translator *translate.Translator
	signatures *signature.Cache
	log        *logrus.Entry

	// sleep is swapped out in tests so rate-limit waits don't stall the
	// suite.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewPipeline wires the pipeline's collaborators together.
func NewPipeline(tokens *auth.Manager, upstream *UpstreamClient, mapper *translate.ModelMapper, signatures *signature.Cache, log *logrus.Entry) *Pipeline {
	return &Pipeline{
		tokens:     tokens,
		upstream:   upstream,
		mapper:     mapper,
		translator: translate.NewTranslator(signatures),
		signatures: signatures,
		log:        log,
		sleep:      sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run executes the request and pushes every SSE event, message_start
// through message_stop, into send in order. The same entry point serves
// streaming (send writes frames) and non-streaming (send feeds a
// collector) requests.
//
// message_start is held back until the first attempt produces events,
// so a failed attempt can still rotate to another account without the
// client having seen anything.
func (p *Pipeline) Run(ctx context.Context, req *anthropic.MessagesRequest, send func(stream.Event) error) error {
	mappedModel := p.mapper.MapWithTools(req.Model, req.Tools)
	upstreamReq := p.translator.Translate(req, mappedModel)

	log := p.log.WithFields(logrus.Fields{
		"model":  req.Model,
		"mapped": mappedModel,
	})

	// Up to N-1 rotations to other accounts, plus one retry for an
	// empty completion.
	rotationsLeft := p.tokens.Len() - 1
	emptyRetriesLeft := 1

	msgID := "msg_" + uuid.NewString()
	started := false
	start := func() error {
		if started {
			return nil
		}
		started = true
		e := stream.MessageStartEvent(msgID, req.Model)
		metrics.StreamEvents.WithLabelValues(e.Name).Inc()
		return send(e)
	}

	for {
		tok, err := p.tokens.GetToken(ctx)
		if err != nil {
			metrics.RequestsTotal.WithLabelValues(mappedModel, "error").Inc()
			return fmt.Errorf("selecting account: %w", err)
		}
		log := log.WithField("email", tok.Email)

		chunks, err := p.upstream.Stream(ctx, tok, mappedModel, upstreamReq)
		if err != nil {
			ue, ok := err.(*UpstreamError)
			if !ok || started {
				metrics.RequestsTotal.WithLabelValues(mappedModel, "error").Inc()
				return err
			}

			decision := retry.Decide(ue.Status, ue.Body)
			switch decision.Action {
			case retry.WaitAndRetry:
				log.WithField("delay_ms", decision.DelayMS).Info("rate limited, waiting before retry")
				metrics.RetryWaits.Inc()
				if err := p.sleep(ctx, time.Duration(decision.DelayMS)*time.Millisecond); err != nil {
					return err
				}
				continue
			case retry.RotateAccount:
				if rotationsLeft > 0 {
					rotationsLeft--
					log.WithField("status", ue.Status).Info("rotating to next account")
					metrics.AccountRotations.Inc()
					continue
				}
				log.Warn("all accounts exhausted")
				metrics.RequestsTotal.WithLabelValues(mappedModel, "exhausted").Inc()
				return ue
			default:
				metrics.RequestsTotal.WithLabelValues(mappedModel, "error").Inc()
				return ue
			}
		}

		retryEmpty, err := p.consume(ctx, chunks, send, start, emptyRetriesLeft > 0)
		if err != nil {
			metrics.RequestsTotal.WithLabelValues(mappedModel, "error").Inc()
			return err
		}
		if retryEmpty {
			emptyRetriesLeft--
			log.Info("empty completion, retrying with next account")
			metrics.EmptyRetries.Inc()
			continue
		}

		metrics.RequestsTotal.WithLabelValues(mappedModel, "ok").Inc()
		return nil
	}
}

// consume runs one converter over one upstream stream. It reports
// retryEmpty=true when the stream finished with no content, a retryable
// finish reason, and retry budget left; in that case nothing has been
// sent and the caller may try again.
func (p *Pipeline) consume(ctx context.Context, chunks <-chan *gemini.Chunk, send func(stream.Event) error, start func() error, mayRetryEmpty bool) (bool, error) {
	conv := stream.NewConverter(p.signatures)

	var pending []stream.Event
	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		if err := start(); err != nil {
			return err
		}
		for _, e := range pending {
			metrics.StreamEvents.WithLabelValues(e.Name).Inc()
			if err := send(e); err != nil {
				return err
			}
		}
		pending = pending[:0]
		return nil
	}

	lastFinishReason := ""
	for chunk := range chunks {
		if len(chunk.Choices) > 0 && chunk.Choices[0].FinishReason != "" {
			lastFinishReason = chunk.Choices[0].FinishReason
		}
		if chunk.Usage != nil {
			metrics.OutputTokens.Add(float64(chunk.Usage.OutputTokenCount()))
		}

		pending = append(pending, conv.Process(chunk)...)

		// Hold the terminal events back until we know the completion
		// isn't empty; everything else goes out immediately.
		if !conv.MessageStopSent() {
			if err := flush(); err != nil {
				return false, err
			}
		}
	}

	if err := ctx.Err(); err != nil {
		return false, err
	}

	if mayRetryEmpty && retry.ShouldRetryEmpty(conv.HasContent(), lastFinishReason) {
		// Nothing was flushed for an empty completion, so the retry
		// starts from a clean slate.
		return true, nil
	}

	// Upstream truncation without a finish reason still ends in a
	// well-formed message_delta + message_stop.
	if !conv.MessageStopSent() {
		pending = append(pending, conv.Finish(lastFinishReason, nil)...)
	}
	return false, flush()
}
