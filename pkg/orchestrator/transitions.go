package orchestrator

import (
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/lokutor-ai/voice-tutor/pkg/audio"
	"github.com/lokutor-ai/voice-tutor/pkg/protocol"
)

func (o *Orchestrator) handle(ev event) {
	if o.sess.Phase == PhaseError {
		if _, ok := ev.(evSessionStarted); !ok {
			return
		}
	}

	switch ev := ev.(type) {
	case evSessionStarted:
		o.onSessionStarted(ev)
	case evAutoStart:
		o.autoStart()
	case evManualStop:
		o.manualStop()
	case evSendText:
		o.sendText(ev.text)
	case evSample:
		o.onSample(ev)
	case evSilenceTimer:
		o.onSilenceTimer(ev)
	case evMessage:
		o.onMessage(ev)
	case evAudio:
		o.onAudioFrame(ev)
	case evChannelClosed:
		o.onChannelClosed(ev)
	case evTrackDone:
		o.onTrackDone(ev)
	case evWordProgress:
		o.onWordProgress(ev)
	case evWordByWordDone:
		o.onWordByWordDone(ev)
	case evPermission:
		if ev.granted && o.live && o.sess.Phase == PhaseIdle && o.sess.Awaiting == ContextNone {
			o.startListening()
		}
	default:
		o.logger.Error("unhandled event", "event", fmt.Sprintf("%T", ev))
	}
}

func (o *Orchestrator) setPhase(p Phase) {
	from := o.sess.Phase
	if from == p {
		return
	}
	o.sess.Phase = p
	o.logger.Debug("phase changed", "session_id", o.sess.ID, "from", from.String(), "to", p.String())
	o.metrics.RecordTransition(o.ctx, from.String(), p.String())
	o.emit(PhaseChanged, PhaseChange{From: from, To: p})
}

func (o *Orchestrator) appendTranscript(text string, speaker Speaker) {
	e := o.sess.appendTranscript(text, speaker, time.Now())
	o.emit(TranscriptAppended, e)
}

func (o *Orchestrator) send(ev protocol.Event) error {
	ch := o.currentChannel()
	if ch == nil {
		return ErrNotReady
	}
	if err := ch.Send(ev); err != nil {
		o.logger.Warn("failed to send event", "session_id", o.sess.ID, "event", fmt.Sprintf("%T", ev), "err", err)
		return err
	}
	return nil
}

func (o *Orchestrator) reset() {
	o.stopTimer()
	o.discardRecording()
	o.seq.StopAll()
	o.drillGen.Add(1)
	o.trackGen++

	o.sess.Pending = nil
	o.sess.Speaking = ContextNone
	o.sess.Awaiting = ContextNone
	o.sess.SuppressAutoListen = false
	if o.live {
		o.live = false
		o.metrics.SessionEnded(o.ctx)
		o.logger.Info("session ended", "session_id", o.sess.ID)
	}
	o.setPhase(PhaseIdle)
}

func (o *Orchestrator) onSessionStarted(ev evSessionStarted) {
	if ev.ch != o.currentChannel() {
		ev.reply(fmt.Errorf("%w: channel superseded", ErrNotReady))
		return
	}
	if ev.ch == o.dead || !ev.ch.Ready() {
		o.logger.Warn("channel closed before session start", "session_id", ev.id)
		ev.reply(fmt.Errorf("%w: channel closed", ErrNotReady))
		return
	}
	o.discardRecording()
	o.seq.StopAll()
	o.trackGen++

	from := o.sess.Phase
	o.sess = NewSession(ev.id)
	o.sess.Phase = from
	o.setPhase(PhaseIdle)

	o.live = true
	o.metrics.SessionStarted(o.ctx)
	o.logger.Info("session started", "session_id", ev.id)

	ev.reply(nil)
	if o.config.AutoStart {
		o.autoStart()
	}
}

func (o *Orchestrator) fail(err error) {
	o.logger.Error("conversation failed", "session_id", o.sess.ID, "phase", o.sess.Phase.String(), "err", err)
	o.stopTimer()
	o.discardRecording()
	o.seq.StopAll()
	o.drillGen.Add(1)
	o.trackGen++

	o.sess.Pending = nil
	o.sess.Speaking = ContextNone
	o.sess.Awaiting = ContextNone
	o.setPhase(PhaseError)
	o.emit(SessionError, fmt.Errorf("%w: %v", ErrSessionError, err).Error())
}

func (o *Orchestrator) onChannelClosed(ev evChannelClosed) {
	if ev.ch != o.currentChannel() {
		return
	}
	o.dead = ev.ch
	o.metrics.RecordChannelClose(o.ctx)
	err := ev.err
	if err == nil {
		err = errors.New("channel closed")
	}
	o.fail(err)
}

// ---- recording ----

func (o *Orchestrator) autoStart() {
	if !o.live || o.sess.Phase != PhaseIdle || o.sess.Awaiting != ContextNone {
		o.logger.Debug("auto start ignored", "phase", o.sess.Phase.String())
		return
	}
	if !o.sess.IntroPlayed {
		o.sess.IntroPlayed = true
		o.setPhase(PhasePlayingIntro)
		o.playTrack(Track{Kind: TrackIntro, Data: o.config.IntroAudio})
		return
	}
	o.startListening()
}

// autoListen resumes listening after a playback unless the next automatic
// listen was suppressed.
func (o *Orchestrator) autoListen() {
	if o.sess.SuppressAutoListen {
		o.sess.SuppressAutoListen = false
		o.setPhase(PhaseIdle)
		return
	}
	o.startListening()
}

func (o *Orchestrator) startListening() {
	if o.rec.active {
		o.setPhase(PhaseListening)
		return
	}
	if err := o.audio.ConfigureForRecording(); err != nil {
		o.fail(err)
		return
	}

	gen := o.rec.gen + 1
	h, err := o.audio.StartRecording(func(db float64, recording bool) {
		o.postSample(evSample{gen: gen, db: db, recording: recording})
	}, o.config.SampleInterval)
	if err != nil {
		o.logger.Warn("failed to start recording", "session_id", o.sess.ID, "err", err)
		o.setPhase(PhaseIdle)
		if errors.Is(err, audio.ErrPermissionDenied) {
			o.requestPermission()
		}
		return
	}

	now := time.Now()
	o.rec = recordingState{
		active:    true,
		gen:       gen,
		handle:    h,
		startedAt: now,
		cal:       NewCalibrator(o.config.Calibration, now),
		seg:       NewSegmenter(o.config.Segmenter, now),
	}
	o.sess.LastStop = StopNone
	o.setPhase(PhaseListening)
	o.armTimer(gen, o.rec.seg.Deadline())
}

func (o *Orchestrator) requestPermission() {
	ctx := o.ctx
	go func() {
		err := o.audio.RequestPermission(ctx)
		o.post(evPermission{granted: err == nil})
	}()
}

func (o *Orchestrator) onSample(ev evSample) {
	if !o.rec.active || ev.gen != o.rec.gen || !ev.recording || o.sess.Phase != PhaseListening {
		return
	}
	now := time.Now()
	o.emit(Level, ev.db)

	threshold, cal := o.rec.cal.Observe(ev.db, now)
	switch cal {
	case CalibrationDone:
		o.logger.Debug("calibrated", "session_id", o.sess.ID, "peak_db", o.rec.cal.Peak(), "threshold_db", threshold)
		o.metrics.RecordCalibration(o.ctx, threshold)
	case CalibrationMeteringBroken:
		o.logger.Warn("amplitude metering looks broken, using fallback timer", "session_id", o.sess.ID)
		o.rec.seg.ArmFallback(o.rec.startedAt, now, o.config.Calibration.FallbackTimeout)
		o.armTimer(ev.gen, o.rec.seg.Deadline())
	}
	o.rec.seg.Observe(Classify(ev.db, threshold), now)
}

func (o *Orchestrator) onSilenceTimer(ev evSilenceTimer) {
	if !o.rec.active || ev.gen != o.rec.gen || o.sess.Phase != PhaseListening {
		return
	}
	u, done := o.rec.seg.Expire(time.Now())
	if !done {
		o.armTimer(ev.gen, o.rec.seg.Deadline())
		return
	}
	o.finishUtterance(u)
}

func (o *Orchestrator) manualStop() {
	if !o.rec.active || o.sess.Phase != PhaseListening {
		o.logger.Debug("manual stop ignored", "phase", o.sess.Phase.String())
		return
	}
	u, ok := o.rec.seg.Stop(time.Now())
	if !ok {
		return
	}
	o.finishUtterance(u)
}

// stopRecording stops the active recording and forgets it.
func (o *Orchestrator) stopRecording() (audio.Recording, error) {
	o.stopTimer()
	h := o.rec.handle
	o.rec.active = false
	o.rec.cal, o.rec.seg = nil, nil
	return o.audio.StopRecording(h)
}

func (o *Orchestrator) discardRecording() {
	if !o.rec.active {
		return
	}
	rec, err := o.stopRecording()
	if err != nil {
		o.logger.Warn("failed to stop recording", "err", err)
		return
	}
	if rec.URI != "" {
		o.discard(rec.URI)
	}
}

func (o *Orchestrator) finishUtterance(u Utterance) {
	rec, err := o.stopRecording()
	if u.StoppedBySilence {
		o.sess.LastStop = StopSilenceTimeout
	} else {
		o.sess.LastStop = StopManual
	}
	if err != nil {
		o.logger.Warn("failed to stop recording", "session_id", o.sess.ID, "err", err)
		o.metrics.RecordUtterance(o.ctx, "failed", u.Voiced)
		o.setPhase(PhaseIdle)
		return
	}

	if !u.Valid {
		if rec.URI != "" {
			o.discard(rec.URI)
		}
		outcome := "no_speech"
		if u.SpeechStarted {
			outcome = "too_short"
		}
		o.logger.Info("no valid speech", "session_id", o.sess.ID, "outcome", outcome, "voiced", u.Voiced, "reason", o.sess.LastStop.String())
		o.metrics.RecordUtterance(o.ctx, outcome, u.Voiced)
		o.setPhase(PhaseIdle)
		if u.StoppedBySilence {
			o.emit(NoSpeechDetected, o.sess.LastStop)
		}
		return
	}

	data, err := o.store.Take(rec.URI)
	if err != nil {
		o.logger.Warn("failed to load recording", "session_id", o.sess.ID, "err", err)
		o.metrics.RecordUtterance(o.ctx, "failed", u.Voiced)
		o.setPhase(PhaseIdle)
		return
	}
	if err := o.send(protocol.NewUpload(data, path.Base(rec.URI), string(o.config.LanguageMode))); err != nil {
		o.metrics.RecordUtterance(o.ctx, "failed", u.Voiced)
		o.setPhase(PhaseIdle)
		return
	}
	o.logger.Info("utterance uploaded", "session_id", o.sess.ID, "voiced", u.Voiced, "bytes", rec.Bytes)
	o.metrics.RecordUtterance(o.ctx, "uploaded", u.Voiced)
	o.setPhase(PhaseProcessing)
}

func (o *Orchestrator) sendText(text string) {
	if !o.live {
		return
	}
	switch o.sess.Phase {
	case PhaseIdle:
	case PhaseListening:
		o.discardRecording()
	default:
		o.logger.Warn("text input ignored", "session_id", o.sess.ID, "phase", o.sess.Phase.String())
		return
	}
	if err := o.send(protocol.Text(text)); err != nil {
		o.setPhase(PhaseIdle)
		return
	}
	o.sess.Awaiting = ContextNone
	o.appendTranscript(text, SpeakerUser)
	o.setPhase(PhaseProcessing)
}

// ---- protocol ----

func (o *Orchestrator) onMessage(ev evMessage) {
	if ev.ch != o.currentChannel() {
		return
	}
	msg, err := protocol.DecodeStep(ev.data)
	if err != nil {
		if errors.Is(err, protocol.ErrUnknownStep) {
			o.metrics.RecordStep(o.ctx, "unknown")
		}
		o.logger.Warn("inbound message rejected", "session_id", o.sess.ID, "step", string(msg.Step), "err", err)
		return
	}
	o.metrics.RecordStep(o.ctx, string(msg.Step))

	switch o.sess.Phase {
	case PhaseProcessing, PhaseIdle:
	case PhaseListening:
		o.discardRecording()
	default:
		o.logger.Warn("step ignored", "session_id", o.sess.ID, "step", string(msg.Step), "phase", o.sess.Phase.String())
		return
	}

	if msg.Response != "" {
		o.appendTranscript(msg.Response, SpeakerAI)
	}
	o.applyStep(msg)
}

func (o *Orchestrator) applyStep(msg protocol.StepMessage) {
	o.sess.Awaiting = ContextNone

	switch msg.Step {
	case protocol.StepNoSpeech:
		o.sess.LastStop = StopSilenceTimeout
		o.setPhase(PhaseIdle)
		o.emit(NoSpeechDetected, o.sess.LastStop)
	case protocol.StepRetry:
		o.setPhase(PhasePlayingRetry)
		o.playTrack(Track{Kind: TrackRetry, Data: o.config.RetryAudio})
	case protocol.StepAwaitNext:
		o.setPhase(PhasePlayingAwaitNext)
	case protocol.StepFeedback:
		if p := pendingFrom(msg); p != nil {
			o.sess.Pending = p
		}
		o.setPhase(PhasePlayingFeedback)
	case protocol.StepYouSaidAudio:
		o.setPhase(PhasePlayingYouSaid)
	case protocol.StepRepeatPrompt, protocol.StepWordByWord:
		o.sess.Pending = pendingFrom(msg)
		if o.sess.Pending == nil {
			o.sess.Pending = &PendingSentence{}
		}
		o.startDrill()
	case protocol.StepFullSentenceAudio:
		o.sess.Awaiting = ContextFeedback
		o.setPhase(PhaseIdle)
	case protocol.StepEnglishInputEdgeCase:
		o.setPhase(PhaseEnglishEdgeCase)
	default:
		o.logger.Error("unhandled step", "session_id", o.sess.ID, "step", string(msg.Step))
	}
}

func pendingFrom(msg protocol.StepMessage) *PendingSentence {
	words := msg.Words
	if len(words) == 0 {
		words = strings.Fields(msg.EnglishSentence)
	}
	if len(words) == 0 && msg.EnglishSentence == "" {
		return nil
	}
	return &PendingSentence{
		Source:      msg.EnglishSentence,
		Translation: msg.UrduSentence,
		Words:       words,
	}
}

// frameContext attributes an audio frame to the step that asked for it.
func (o *Orchestrator) frameContext() SpeakingContext {
	switch o.sess.Phase {
	case PhasePlayingFeedback:
		return ContextFeedback
	case PhasePlayingYouSaid:
		return ContextYouSaid
	case PhasePlayingAwaitNext:
		return ContextAwaitNext
	case PhaseEnglishEdgeCase:
		return ContextEnglishEdgeCase
	case PhaseIdle:
		return o.sess.Awaiting
	default:
		return ContextNone
	}
}

func (o *Orchestrator) onAudioFrame(ev evAudio) {
	if ev.ch != o.currentChannel() {
		return
	}
	c := o.frameContext()
	if c == ContextNone {
		o.logger.Warn("unattributed audio frame dropped", "session_id", o.sess.ID, "phase", o.sess.Phase.String(), "bytes", len(ev.data))
		return
	}

	ext := ".pcm"
	if audio.IsWav(ev.data) {
		ext = ".wav"
	}
	uri, err := o.store.Put(ev.data, ext)

	o.sess.Awaiting = ContextNone
	o.sess.Speaking = c
	o.setPhase(PhaseSpeaking)

	if err != nil {
		o.trackGen++
		o.post(evTrackDone{gen: o.trackGen, kind: c.track(), err: fmt.Errorf("%w: %s: %v", ErrPlaybackFailed, c.track(), err)})
		return
	}
	o.playTrack(Track{Kind: c.track(), URI: uri})
}

// ---- playback ----

// playTrack starts t. Its completion, or failure, arrives as evTrackDone.
// An empty asset counts as played.
func (o *Orchestrator) playTrack(t Track) {
	o.trackGen++
	gen := o.trackGen
	if t.URI == "" && len(t.Data) == 0 {
		o.post(evTrackDone{gen: gen, kind: t.Kind})
		return
	}
	err := o.seq.PlayTrack(t, func(err error) {
		o.post(evTrackDone{gen: gen, kind: t.Kind, err: err})
	})
	if err != nil {
		o.post(evTrackDone{gen: gen, kind: t.Kind, err: err})
	}
}

func (o *Orchestrator) onTrackDone(ev evTrackDone) {
	if ev.gen != o.trackGen {
		return
	}
	if ev.err != nil {
		// Carry on as if the track had finished.
		o.logger.Warn("track failed", "session_id", o.sess.ID, "kind", ev.kind.String(), "err", ev.err)
		o.metrics.RecordPlaybackFailure(o.ctx, ev.kind.String())
	}

	switch o.sess.Phase {
	case PhasePlayingIntro, PhasePlayingRetry:
		o.startListening()
	case PhaseSpeaking:
		o.completeSpeaking()
	default:
		o.logger.Debug("track finished outside a playback phase", "kind", ev.kind.String(), "phase", o.sess.Phase.String())
	}
}

// completeSpeaking takes the transition recorded by the speaking context.
func (o *Orchestrator) completeSpeaking() {
	c := o.sess.Speaking
	o.sess.Speaking = ContextNone
	mode := string(o.config.LanguageMode)

	switch c {
	case ContextFeedback:
		o.send(protocol.FeedbackComplete{LanguageMode: mode})
		if o.sess.Pending != nil {
			o.startDrill()
			return
		}
		o.autoListen()
	case ContextYouSaid:
		o.send(protocol.YouSaidComplete{LanguageMode: mode})
		o.sess.SuppressAutoListen = true
		o.setPhase(PhaseIdle)
	case ContextAwaitNext:
		o.sess.Transcript = nil
		o.autoListen()
	case ContextEnglishEdgeCase, ContextGeneric:
		o.autoListen()
	default:
		o.logger.Error("speaking finished without a context", "session_id", o.sess.ID)
		o.setPhase(PhaseIdle)
	}
}

func (o *Orchestrator) startDrill() {
	o.setPhase(PhaseWordByWord)
	gen := o.drillGen.Add(1)

	var words []string
	if o.sess.Pending != nil {
		words = o.sess.Pending.Words
	}
	if len(Chunk(words, o.config.Playback.ChunkSize)) == 0 {
		o.post(evWordByWordDone{gen: gen})
		return
	}

	o.seq.SpeakWordByWord(words,
		func(p WordProgress) { o.post(evWordProgress{gen: gen, p: p}) },
		func() bool { return o.drillGen.Load() != gen },
		func(err error) { o.post(evWordByWordDone{gen: gen, err: err}) },
	)
}

func (o *Orchestrator) onWordProgress(ev evWordProgress) {
	if ev.gen != o.drillGen.Load() || o.sess.Phase != PhaseWordByWord {
		return
	}
	o.metrics.RecordWordChunk(o.ctx)
	o.emit(WordProgressed, ev.p)
}

func (o *Orchestrator) onWordByWordDone(ev evWordByWordDone) {
	if ev.gen != o.drillGen.Load() || o.sess.Phase != PhaseWordByWord {
		return
	}
	if ev.err != nil {
		o.logger.Warn("word-by-word drill failed", "session_id", o.sess.ID, "err", ev.err)
		o.metrics.RecordPlaybackFailure(o.ctx, TrackSpeechSynthesis.String())
	}

	var sentence string
	if o.sess.Pending != nil {
		sentence = o.sess.Pending.Source
		if sentence == "" {
			sentence = strings.Join(o.sess.Pending.Words, " ")
		}
	}
	o.send(protocol.WordByWordComplete{Sentence: sentence, LanguageMode: string(o.config.LanguageMode)})

	o.sess.Pending = nil
	o.sess.Awaiting = ContextGeneric
	o.setPhase(PhaseIdle)
}
