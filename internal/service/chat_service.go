package service

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-adp-assistant/internal/conversation"
	"github.com/noah-isme/sma-adp-assistant/internal/models"
	"github.com/noah-isme/sma-adp-assistant/pkg/clock"
	appErrors "github.com/noah-isme/sma-adp-assistant/pkg/errors"
	"github.com/noah-isme/sma-adp-assistant/pkg/jobs"
)

const (
	jobTurn  = "turn"
	jobReset = "reset"

	maxMessageLength = 2000
	cancelledReply   = "La solicitud fue reemplazada por un mensaje más reciente."
)

// ChatOptions tune sessions.
type ChatOptions struct {
	MaxLevels     int
	HistoryLimit  int
	SessionTTL    time.Duration
	SweepInterval time.Duration
	// MaxReplyRows caps the rows returned with a turn; the level keeps all of them.
	MaxReplyRows int
	CacheTimeout time.Duration
}

type turnInput struct {
	Message    string
	Attachment string
}

type chatSession struct {
	id       string
	box      *jobs.Mailbox
	mu       sync.RWMutex
	state    *conversation.State
	lastSeen time.Time
}

// ChatService runs the Master, Planner, Executor and Synthesiser pipeline
// for each message. Every session has a mailbox so its turns run one at a
// time in arrival order; a new message cancels the turn in flight.
type ChatService struct {
	master   *MasterService
	planner  *PlannerService
	executor *ExecutorService
	synth    *SynthesizerService
	cache    *CacheService
	metrics  *MetricsService
	clock    clock.Clock
	opts     ChatOptions
	logger   *zap.Logger

	mu       sync.Mutex
	sessions map[string]*chatSession

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewChatService wires the pipeline. cache and metrics may be nil.
func NewChatService(master *MasterService, planner *PlannerService, executor *ExecutorService, synth *SynthesizerService, cache *CacheService, metrics *MetricsService, clk clock.Clock, opts ChatOptions, logger *zap.Logger) *ChatService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clk == nil {
		clk = clock.System{}
	}
	if opts.MaxLevels <= 0 {
		opts.MaxLevels = conversation.DefaultMaxLevels
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = conversation.DefaultHistoryLimit
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = 2 * time.Hour
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = 5 * time.Minute
	}
	if opts.MaxReplyRows <= 0 {
		opts.MaxReplyRows = 50
	}
	if opts.CacheTimeout <= 0 {
		opts.CacheTimeout = 2 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &ChatService{
		master:   master,
		planner:  planner,
		executor: executor,
		synth:    synth,
		cache:    cache,
		metrics:  metrics,
		clock:    clk,
		opts:     opts,
		logger:   logger,
		sessions: make(map[string]*chatSession),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start runs the idle-session sweeper until Stop.
func (s *ChatService) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.opts.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				if n := s.Sweep(s.clock.Now()); n > 0 {
					s.logger.Info("idle sessions swept", zap.Int("count", n))
				}
			}
		}
	}()
}

// Stop cancels running turns and stops every session mailbox.
func (s *ChatService) Stop() {
	s.cancel()
	s.wg.Wait()
	s.mu.Lock()
	sessions := make([]*chatSession, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.sessions = make(map[string]*chatSession)
	s.mu.Unlock()
	for _, sess := range sessions {
		sess.box.Stop()
	}
	s.metrics.SetActiveSessions(0)
}

// CreateSession opens a new session and returns its id.
func (s *ChatService) CreateSession(ctx context.Context) (string, error) {
	id := uuid.NewString()
	if _, err := s.session(ctx, id, true); err != nil {
		return "", err
	}
	s.logger.Info("chat session created", zap.String("session_id", id))
	return id, nil
}

// Send runs one turn. Unknown sessions are created on demand, restoring a
// cached snapshot when one exists.
func (s *ChatService) Send(ctx context.Context, sessionID, message, attachment string) (*models.TurnResult, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "el mensaje no puede estar vacío")
	}
	if utf8.RuneCountInString(message) > maxMessageLength {
		return nil, appErrors.Clone(appErrors.ErrValidation, "el mensaje excede "+strconv.Itoa(maxMessageLength)+" caracteres")
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	sess, err := s.session(ctx, sessionID, true)
	if err != nil {
		return nil, err
	}
	value, err := sess.box.Do(ctx, jobs.Job{
		ID:      uuid.NewString(),
		Type:    jobTurn,
		Payload: turnInput{Message: message, Attachment: strings.TrimSpace(attachment)},
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, jobs.ErrStopped) || errors.Is(err, jobs.ErrSuperseded) {
			return &models.TurnResult{SessionID: sessionID, Status: models.TurnCancelled, Reply: cancelledReply, ErrorCode: appErrors.ErrTurnCancelled.Code}, nil
		}
		return nil, err
	}
	return value.(*models.TurnResult), nil
}

// Levels returns the context stack of a session, oldest first.
func (s *ChatService) Levels(ctx context.Context, sessionID string) ([]models.ContextLevel, error) {
	sess, err := s.session(ctx, sessionID, false)
	if err != nil {
		return nil, err
	}
	sess.mu.RLock()
	defer sess.mu.RUnlock()
	return sess.state.Stack.Levels(), nil
}

// Level returns one level by depth (0 = most recent).
func (s *ChatService) Level(ctx context.Context, sessionID string, depth int) (models.ContextLevel, error) {
	sess, err := s.session(ctx, sessionID, false)
	if err != nil {
		return models.ContextLevel{}, err
	}
	sess.mu.RLock()
	defer sess.mu.RUnlock()
	level, ok := sess.state.Stack.At(depth)
	if !ok {
		return models.ContextLevel{}, appErrors.Clone(appErrors.ErrNotFound, "el nivel de contexto "+strconv.Itoa(depth)+" no existe")
	}
	return level, nil
}

// Reset clears a session. The reset is queued behind, and cancels, the
// turn in flight.
func (s *ChatService) Reset(ctx context.Context, sessionID string) error {
	sess, err := s.session(ctx, sessionID, false)
	if err != nil {
		return err
	}
	_, err = sess.box.Do(ctx, jobs.Job{ID: uuid.NewString(), Type: jobReset})
	return err
}

// ActiveSessions is the number of in-memory sessions.
func (s *ChatService) ActiveSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Sweep drops sessions idle for longer than the session TTL and reports how
// many were removed. Cached snapshots survive the sweep.
func (s *ChatService) Sweep(now time.Time) int {
	s.mu.Lock()
	var idle []*chatSession
	for id, sess := range s.sessions {
		sess.mu.RLock()
		seen := sess.lastSeen
		sess.mu.RUnlock()
		if now.Sub(seen) > s.opts.SessionTTL && sess.box.Pending() == 0 {
			idle = append(idle, sess)
			delete(s.sessions, id)
		}
	}
	active := len(s.sessions)
	s.mu.Unlock()

	for _, sess := range idle {
		sess.box.Stop()
	}
	s.metrics.SetActiveSessions(active)
	return len(idle)
}

func (s *ChatService) session(ctx context.Context, id string, create bool) (*chatSession, error) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	s.mu.Unlock()
	if ok {
		return sess, nil
	}

	state, found, err := s.cache.LoadSession(ctx, id)
	if err != nil {
		s.logger.Warn("session restore failed", zap.String("session_id", id), zap.Error(err))
	}
	if !found {
		if !create {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "sesión no encontrada")
		}
		state = conversation.NewState(id, s.opts.MaxLevels, s.opts.HistoryLimit, s.clock.Now())
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.sessions[id]; ok {
		return existing, nil
	}
	sess = &chatSession{id: id, state: state, lastSeen: s.clock.Now()}
	sess.box = jobs.NewMailbox("session-"+id, s.handler(sess), jobs.MailboxConfig{CancelInFlight: true, Logger: s.logger})
	sess.box.Start(s.ctx)
	s.sessions[id] = sess
	s.metrics.SetActiveSessions(len(s.sessions))
	return sess, nil
}

func (s *ChatService) handler(sess *chatSession) jobs.Handler {
	return func(ctx context.Context, job jobs.Job) (interface{}, error) {
		switch job.Type {
		case jobReset:
			now := s.clock.Now()
			sess.mu.Lock()
			sess.state.Reset(now)
			sess.lastSeen = now
			state := sess.state.Clone()
			sess.mu.Unlock()
			s.snapshot(state)
			s.logger.Info("chat session reset", zap.String("session_id", sess.id))
			return nil, nil
		case jobTurn:
			in, ok := job.Payload.(turnInput)
			if !ok {
				return nil, appErrors.Clone(appErrors.ErrInternal, "carga de turno inválida")
			}
			return s.turn(ctx, sess, in), nil
		}
		return nil, appErrors.Clone(appErrors.ErrInternal, "tipo de trabajo desconocido: "+job.Type)
	}
}

// turn runs the pipeline on a copy of the state and commits the copy unless
// the turn was cancelled.
func (s *ChatService) turn(ctx context.Context, sess *chatSession, in turnInput) *models.TurnResult {
	started := time.Now()
	sess.mu.RLock()
	work := sess.state.Clone()
	sess.mu.RUnlock()

	res, level := s.pipeline(ctx, work, in)
	res.SessionID = sess.id

	if ctx.Err() != nil || res.Status == models.TurnCancelled {
		sess.mu.RLock()
		depth := sess.state.Stack.Len()
		sess.mu.RUnlock()
		res = &models.TurnResult{
			SessionID:    sess.id,
			Status:       models.TurnCancelled,
			Category:     res.Category,
			Reply:        cancelledReply,
			ErrorCode:    appErrors.ErrTurnCancelled.Code,
			ContextDepth: depth,
		}
	} else {
		now := s.clock.Now()
		work.AppendHistory(models.RoleUser, in.Message, now)
		work.AppendHistory(models.RoleAssistant, res.Reply, now)
		if level != nil && res.Status.Pushes() {
			if evicted := work.Stack.Push(*level); evicted != nil {
				s.logger.Debug("context level evicted", zap.String("session_id", sess.id), zap.String("query", evicted.Query))
			}
		}
		res.ContextDepth = work.Stack.Len()
		sess.mu.Lock()
		sess.state = work
		sess.lastSeen = now
		sess.mu.Unlock()
		s.snapshot(work.Clone())
	}

	res.Latency = time.Since(started)
	s.metrics.RecordTurn(res.Category, res.Status, res.Latency)
	s.logger.Info("chat_turn",
		zap.String("session_id", sess.id),
		zap.String("category", string(res.Category)),
		zap.String("action", string(res.Action)),
		zap.Int("row_count", res.RowCount),
		zap.String("status", string(res.Status)),
		zap.String("error_code", res.ErrorCode),
		zap.Duration("latency", res.Latency),
	)
	return res
}

func (s *ChatService) pipeline(ctx context.Context, state *conversation.State, in turnInput) (*models.TurnResult, *models.ContextLevel) {
	out := &models.TurnResult{}
	verdict, err := s.master.Analyze(ctx, state, in.Message)
	if err != nil {
		return s.failed(ctx, out, err), nil
	}
	out.Category = verdict.Category
	if in.Attachment != "" && verdict.Entities.Attachment == "" {
		verdict.Entities.Attachment = models.FlexString(in.Attachment)
	}

	switch {
	case verdict.ClarificationNeeded:
		return clarify(out, verdict.Question, verdict.Candidates), nil
	case verdict.Category == models.CategoryHelp:
		return s.answered(out, in.Message, models.ActionHelp, s.synth.Help(), nil, verdict)
	case verdict.Category == models.CategorySmallTalk:
		syn, err := s.synth.SmallTalk(ctx, state, in.Message)
		if err != nil {
			return s.failed(ctx, out, err), nil
		}
		return s.answered(out, in.Message, models.ActionSmallTalk, syn, nil, verdict)
	case verdict.Category == models.CategoryContinuation && verdict.SubType == models.SubTypeSelection:
		rs := verdict.Entities.ResolvedStudent
		if rs == nil || rs.Row == nil {
			return clarify(out, "¿A cuál alumno te refieres? Indica su posición en la lista o su nombre.", nil), nil
		}
		res := &models.ExecutionResult{Success: true, Data: []models.Row{rs.Row}, RowCount: 1, ActionUsed: models.ActionContextSelection, Stage: models.StageDone}
		return s.answered(out, in.Message, models.ActionContextSelection, s.synth.Selection(rs, verdict.Entities.RequestedField.String()), res, verdict)
	case verdict.Category == models.CategoryContinuation && verdict.SubType == models.SubTypeConfirmation:
		return s.confirm(ctx, state, in, verdict, out)
	}

	req, err := s.planner.Plan(ctx, state, in.Message, verdict)
	if err != nil {
		return s.failed(ctx, out, err), nil
	}
	return s.execute(ctx, state, in.Message, verdict, req, out)
}

func (s *ChatService) confirm(ctx context.Context, state *conversation.State, in turnInput, verdict *models.MasterVerdict, out *models.TurnResult) (*models.TurnResult, *models.ContextLevel) {
	var yes bool
	if c := verdict.Entities.Confirmation; c != nil {
		yes = *c
	} else if parsed, ok := conversation.ParseConfirmation(in.Message); ok {
		yes = parsed
	} else {
		return clarify(out, "¿Confirmas? Responde sí o no.", nil), nil
	}

	top, _ := state.Stack.Top()
	cert := top.Certificate
	if top.Awaiting != models.AwaitingConfirmation || cert == nil || !yes {
		reply := "Entendido."
		if !yes && cert != nil {
			reply = "De acuerdo, no emitiré la constancia de " + cert.StudentName + "."
		}
		syn := &models.Synthesis{UserResponse: reply, Reflection: models.Reflection{ExpectedType: models.AwaitingNone}, Deterministic: true}
		return s.answered(out, in.Message, models.ActionConfirmation, syn, nil, verdict)
	}

	final := false
	req := &models.ActionRequest{
		Strategy:  models.StrategySimple,
		Action:    models.ActionGenerateCertificate,
		Reasoning: "confirmación de la vista previa",
		Certificate: &models.CertificateParams{
			StudentRef:   models.FlexString(strconv.FormatInt(cert.StudentID, 10)),
			Kind:         cert.Kind,
			IncludePhoto: cert.Metadata["incluir_foto"] == "true",
			Preview:      &final,
		},
	}
	return s.execute(ctx, state, in.Message, verdict, req, out)
}

func (s *ChatService) execute(ctx context.Context, state *conversation.State, message string, verdict *models.MasterVerdict, req *models.ActionRequest, out *models.TurnResult) (*models.TurnResult, *models.ContextLevel) {
	res, err := s.executor.Execute(ctx, req, scopeIDs(state.Stack))
	out.Action = res.ActionUsed
	out.SQL = res.SQL
	if err == nil {
		syn, serr := s.synth.Synthesize(ctx, state, message, res)
		if serr != nil {
			return s.failed(ctx, out, serr), nil
		}
		return s.answered(out, message, res.ActionUsed, syn, res, verdict)
	}

	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return s.failed(ctx, out, err), nil
	}
	switch {
	case errors.Is(err, appErrors.ErrAmbiguousReference) && len(res.Data) > 0:
		question := candidateQuestion(studentRef(req), res.Data)
		state.Pending = &conversation.PendingClarification{
			Question:   question,
			Category:   verdict.Category,
			Entities:   verdict.Entities,
			Candidates: res.Data,
			CreatedAt:  s.clock.Now(),
		}
		return clarify(out, question, res.Data), nil
	case errors.Is(err, appErrors.ErrNoResults):
		syn, _ := s.synth.Synthesize(ctx, state, message, res)
		out.Status = models.TurnNoResults
		out.ErrorCode = res.ErrorCode
		out.Reply = syn.UserResponse
		return out, nil
	case appErrors.ClassOf(err) == appErrors.ClassExecution:
		out.Status = models.TurnError
		out.ErrorCode = res.ErrorCode
		syn, serr := s.synth.Synthesize(ctx, state, message, res)
		if serr != nil {
			if ctx.Err() != nil {
				return s.failed(ctx, out, serr), nil
			}
			out.Reply = summaryReply(res)
			return out, nil
		}
		out.Reply = syn.UserResponse
		return out, nil
	}
	return s.failed(ctx, out, err), nil
}

func (s *ChatService) answered(out *models.TurnResult, message string, action models.ActionName, syn *models.Synthesis, res *models.ExecutionResult, verdict *models.MasterVerdict) (*models.TurnResult, *models.ContextLevel) {
	out.Status = models.TurnOK
	out.Action = action
	out.Reply = syn.UserResponse
	awaiting := syn.Reflection.ExpectedType
	if awaiting == "" {
		awaiting = models.AwaitingNone
	}
	entities := verdict.Entities
	level := &models.ContextLevel{
		Query:            message,
		Data:             []models.Row{},
		Awaiting:         awaiting,
		Timestamp:        s.clock.Now(),
		StrategicNote:    syn.Reflection.StrategicNote,
		ResolvedEntities: &entities,
		Action:           action,
	}
	if res != nil {
		level.Data = res.Data
		level.RowCount = res.RowCount
		level.SQLQuery = res.SQL
		level.Certificate = res.Certificate
		out.RowCount = res.RowCount
		out.SQL = res.SQL
		out.Certificate = res.Certificate
		out.Data = res.Data
		if len(out.Data) > s.opts.MaxReplyRows {
			out.Data = out.Data[:s.opts.MaxReplyRows]
		}
	}
	return out, level
}

func (s *ChatService) failed(ctx context.Context, out *models.TurnResult, err error) *models.TurnResult {
	if errors.Is(err, context.Canceled) || ctx.Err() != nil {
		out.Status = models.TurnCancelled
		out.ErrorCode = appErrors.ErrTurnCancelled.Code
		return out
	}
	appErr := appErrors.FromError(err)
	out.ErrorCode = appErr.Code
	switch appErrors.ClassOf(err) {
	case appErrors.ClassTransport:
		out.Status = models.TurnTransientError
		out.Reply = transientReply
	case appErrors.ClassSafety:
		out.Status = models.TurnRejected
		out.Reply = rejectedReply
	case appErrors.ClassPlanning, appErrors.ClassContent:
		out.Status = models.TurnClarification
		out.ClarificationNeeded = true
		out.Reply = planFailedReply
	case appErrors.ClassInput:
		out.Status = models.TurnClarification
		out.ClarificationNeeded = true
		out.Reply = capitalise(appErr.Message) + "."
	case appErrors.ClassExecution:
		out.Status = models.TurnError
		out.Reply = "No pude completar la solicitud: " + appErr.Message
	default:
		out.Status = models.TurnError
		out.Reply = "Ocurrió un error inesperado. Inténtalo de nuevo."
		s.logger.Error("turn failed", zap.Error(err))
		return out
	}
	s.logger.Warn("turn failed", zap.String("code", appErr.Code), zap.String("status", string(out.Status)), zap.Error(err))
	return out
}

func (s *ChatService) snapshot(state *conversation.State) {
	if !s.cache.Enabled() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.CacheTimeout)
	defer cancel()
	if err := s.cache.SaveSession(ctx, state); err != nil {
		s.logger.Warn("session snapshot failed", zap.String("session_id", state.SessionID), zap.Error(err))
	}
}

func clarify(out *models.TurnResult, question string, candidates []models.Row) *models.TurnResult {
	if strings.TrimSpace(question) == "" {
		question = genericClarification
	}
	out.Status = models.TurnClarification
	out.ClarificationNeeded = true
	out.Reply = question
	out.Candidates = candidates
	return out
}

func studentRef(req *models.ActionRequest) string {
	switch {
	case req.Certificate != nil:
		return req.Certificate.StudentRef.String()
	case req.Transform != nil:
		return req.Transform.StudentRef.String()
	}
	return ""
}

// scopeIDs are the ids of the most recent level with rows.
func scopeIDs(stack *conversation.Stack) []int64 {
	level, _, ok := stack.TopWithData()
	if !ok {
		return nil
	}
	return level.IDs()
}
