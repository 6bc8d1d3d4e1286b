package sim

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/aoi-sim/aoi-sim/sim/ctrl"
	"github.com/aoi-sim/aoi-sim/sim/trace"
)

// ErrUnknownUe is returned for control messages about a UE that is not attached.
var ErrUnknownUe = errors.New("unknown ue")

// suspendedPass is a scheduling pass parked while its agent round is open.
type suspendedPass struct {
	pool    ResourcePool
	round   *Round
	started time.Time
	blocked bool
}

// SimulatorOptions carries the optional collaborators of a Simulator.
type SimulatorOptions struct {
	Agent     Agent               // decision agent; used only by the external-weight policy
	Link      LinkModel           // defaults to IdealLink at CQI 15
	Estimator ThroughputEstimator // defaults to the CQI table estimator
	Trace     *trace.SimulationTrace
	Observers []Observer
}

// Simulator drives the scheduler over a slot timeline.
//
// Every slot, each enabled direction gets one SlotEvent. With the external-weight
// policy and an agent, the pass of a decision slot is suspended until the agent
// answers; the loop keeps executing other events (the other direction, arrivals,
// HARQ feedback, CQI reports) and only blocks when the next event is a slot of the
// suspended direction.
//
// Not thread-safe: Run owns all state. Agents answer through Round.Resume, which is safe
// from any goroutine.
type Simulator struct {
	Config    SimConfig
	Engine    Config
	Clock     int64
	Scheduler *Scheduler
	Bridge    *AgentBridge // nil unless the policy is external-weight and an agent is set
	Ages      *AgeTracker
	Metrics   *Metrics
	Trace     *trace.SimulationTrace

	link       LinkModel
	observers  []Observer
	events     *Timeline
	eventSeq   uint64
	ues        map[UeID]*UeRecord
	buffers    map[UeID]*[numDirections]*TxBuffer
	pendingBsr map[UeID]bool
	harqSeq    map[UeID]uint8
	suspended  [numDirections]*suspendedPass
	enabled    [numDirections]bool
	started    bool
}

// NewSimulator validates both configurations and wires the scheduler, the age tracker
// and, for the external-weight policy, the agent bridge.
func NewSimulator(cfg SimConfig, engine Config, opts SimulatorOptions) (*Simulator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid simulation config: %w", err)
	}
	if err := engine.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scheduler config: %w", err)
	}
	est := opts.Estimator
	if est == nil {
		est = NewCqiThroughputEstimator(0)
	}
	link := opts.Link
	if link == nil {
		link = IdealLink{Cqi: MaxCqi}
	}

	ages := NewAgeTracker()
	s := &Simulator{
		Config:     cfg,
		Engine:     engine,
		Scheduler:  NewScheduler(engine, ages, est),
		Ages:       ages,
		Metrics:    NewMetrics(),
		Trace:      opts.Trace,
		link:       link,
		observers:  opts.Observers,
		events:     NewTimeline(),
		ues:        make(map[UeID]*UeRecord),
		buffers:    make(map[UeID]*[numDirections]*TxBuffer),
		pendingBsr: make(map[UeID]bool),
		harqSeq:    make(map[UeID]uint8),
	}
	for _, d := range cfg.directions() {
		s.enabled[d] = true
	}

	external := s.Scheduler.Policy().Kind() == PolicyExternalWeight
	switch {
	case opts.Agent != nil && external:
		s.Bridge = NewAgentBridge(opts.Agent)
		for _, d := range Directions {
			s.Bridge.SetReward(d, NewRewardFunc(engine.Reward, est, cfg.ResourceUnits))
		}
	case opts.Agent != nil:
		logrus.Warnf("agent ignored: policy %q does not use external weights", s.Scheduler.Policy().Kind())
	case external:
		logrus.Warnf("external-weight policy without an agent: weights stay 0 and ranking falls back to ue id")
	}
	return s, nil
}

func (s *Simulator) nextEventID() uint64 {
	s.eventSeq++
	return s.eventSeq
}

// Schedule adds an event to the timeline. Events in the past run at the current slot.
func (s *Simulator) Schedule(e Event) {
	if e.Timestamp() < s.Clock {
		panic(fmt.Sprintf("[slot %07d] %s event scheduled in the past at slot %d", s.Clock, e.Type(), e.Timestamp()))
	}
	s.events.Schedule(e)
}

// at clamps a slot to the present, for events derived from a pass that resumed late.
func (s *Simulator) at(slot int64) int64 {
	return max(slot, s.Clock)
}

// ScheduleAttach attaches a UE at slot.
func (s *Simulator) ScheduleAttach(slot int64, spec UeSpec) {
	s.Schedule(NewAttachEvent(slot, spec, s.nextEventID()))
}

// ScheduleDetach detaches a UE at slot.
func (s *Simulator) ScheduleDetach(slot int64, ue UeID) {
	s.Schedule(NewDetachEvent(slot, ue, s.nextEventID()))
}

// InjectArrival queues a packet arrival.
func (s *Simulator) InjectArrival(a Arrival) {
	checkDirection(a.Direction)
	s.Schedule(NewArrivalEvent(a, s.nextEventID()))
}

// Ue returns the record of an attached UE, or nil.
func (s *Simulator) Ue(id UeID) *UeRecord {
	return s.ues[id]
}

// Ues returns the attached UEs ordered by ID.
func (s *Simulator) Ues() []*UeRecord {
	out := make([]*UeRecord, 0, len(s.ues))
	for _, ue := range s.ues {
		out = append(out, ue)
	}
	SortUes(out)
	return out
}

// Suspended reports whether dir has a pass waiting for its agent round.
func (s *Simulator) Suspended(dir Direction) bool {
	checkDirection(dir)
	return s.suspended[dir] != nil
}

func (s *Simulator) start() {
	s.started = true
	for _, d := range Directions {
		if s.enabled[d] {
			s.Schedule(NewSlotEvent(s.Clock, d, s.nextEventID()))
		}
	}
}

// Run executes events until the horizon, the timeline runs dry, or ctx is done.
// Open agent rounds are always answered and applied before Run returns normally.
func (s *Simulator) Run(ctx context.Context) error {
	if !s.started {
		s.start()
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.drainResponses()

		if slot, ok := s.events.NextSlot(); !ok || slot >= s.Config.Horizon {
			if !s.anySuspended() {
				break
			}
			if err := s.awaitAll(ctx); err != nil {
				return err
			}
			continue
		}
		if slot, ok := s.events.Peek().(*SlotEvent); ok && s.suspended[slot.Direction] != nil {
			if err := s.await(ctx, slot.Direction); err != nil {
				return err
			}
			continue
		}

		ev := s.events.PopNext()
		s.advance(ev.Timestamp())
		ev.Execute(s)
	}
	logrus.Infof("[slot %07d] simulation finished: %d ues attached, %d events left", s.Clock, len(s.ues), s.events.Len())
	return nil
}

func (s *Simulator) advance(slot int64) {
	if slot < s.Clock {
		panic(fmt.Sprintf("clock moved backwards: %d -> %d", s.Clock, slot))
	}
	s.Clock = slot
	s.Ages.Advance(slot)
}

func (s *Simulator) anySuspended() bool {
	for _, p := range s.suspended {
		if p != nil {
			return true
		}
	}
	return false
}

// drainResponses resumes every suspended pass whose answer has arrived.
func (s *Simulator) drainResponses() {
	if s.Bridge == nil {
		return
	}
	for _, d := range Directions {
		if s.suspended[d] == nil {
			continue
		}
		if resp, ok := s.Bridge.Poll(d); ok {
			s.resume(d, resp)
		}
	}
}

func (s *Simulator) await(ctx context.Context, dir Direction) error {
	pass := s.suspended[dir]
	pass.blocked = true
	s.Metrics.StalledWaits++
	logrus.Debugf("[slot %07d] waiting for %s round %d", s.Clock, dir, pass.round.Seq)
	resp, err := s.Bridge.Await(ctx, dir)
	if err != nil {
		return err
	}
	s.resume(dir, resp)
	return nil
}

func (s *Simulator) awaitAll(ctx context.Context) error {
	for _, d := range Directions {
		if s.suspended[d] != nil {
			if err := s.await(ctx, d); err != nil {
				return err
			}
		}
	}
	return nil
}

// resume applies a round's answer and runs the parked pass.
func (s *Simulator) resume(dir Direction, resp Response) {
	pass := s.suspended[dir]
	s.suspended[dir] = nil
	stats := s.Bridge.Apply(resp, s.Ue)

	report := RoundReport{
		Direction: dir,
		Slot:      pass.pool.Slot,
		Seq:       resp.Round.Seq,
		Flows:     len(resp.Round.Observation.Flows),
		Reward:    resp.Round.Reward,
		Done:      resp.Round.Done,
		Stats:     stats,
		WaitSlots: s.Clock - pass.pool.Slot,
		Blocked:   pass.blocked,
		Latency:   time.Since(pass.started),
	}
	s.Metrics.recordRound(report)
	if s.Trace.Enabled() {
		s.Trace.RecordRound(trace.RoundRecord{
			Seq:             report.Seq,
			Slot:            report.Slot,
			Direction:       dir.String(),
			Flows:           report.Flows,
			Reward:          report.Reward,
			Done:            report.Done,
			CarriedOver:     stats.CarriedOver,
			Applied:         stats.Applied,
			Clamped:         stats.Clamped,
			DroppedUes:      stats.DroppedUes,
			DroppedChannels: stats.DroppedChannels,
			WaitSlots:       report.WaitSlots,
		})
	}
	for _, o := range s.observers {
		o.OnRound(report)
	}
	s.runPass(dir, pass.pool)
}

func (s *Simulator) handleSlot(e *SlotEvent) {
	dir := e.Direction
	slot := e.Timestamp()
	if slot+1 < s.Config.Horizon {
		s.Schedule(NewSlotEvent(slot+1, dir, s.nextEventID()))
	}
	if dir == Downlink {
		s.refreshDownlink()
	}
	pool := ResourcePool{Slot: slot, Units: s.Config.ResourceUnits}

	if s.Bridge == nil || slot%s.Config.DecisionPeriod != 0 {
		s.runPass(dir, pool)
		return
	}

	ues := s.Ues()
	// Only ranked UEs get their age refreshed by the policy; idle ones would be stale.
	for _, ue := range ues {
		refreshAge(s.Ages, ue, dir)
	}
	done := slot+s.Config.DecisionPeriod >= s.Config.Horizon
	info := fmt.Sprintf("slot=%d ues=%d pool=%d", slot, len(ues), pool.Units)
	round, err := s.Bridge.Begin(dir, slot, ues, done, info)
	if err != nil {
		// The loop waits for the previous round before executing this slot.
		panic(fmt.Sprintf("[slot %07d] %v", slot, err))
	}
	s.suspended[dir] = &suspendedPass{pool: pool, round: round, started: time.Now()}
	if resp, ok := s.Bridge.Poll(dir); ok {
		s.resume(dir, resp)
	}
}

// runPass ranks, assigns and commits one slot's grants.
func (s *Simulator) runPass(dir Direction, pool ResourcePool) {
	ues := s.Ues()
	result := s.Scheduler.BuildAndAssign(dir, ues, pool)
	for _, a := range result.Assignments {
		s.commit(dir, pool.Slot, a)
	}

	report := SlotReport{Direction: dir, Slot: pool.Slot, Result: result, Attached: len(ues)}
	var ageSum uint64
	for _, ue := range ues {
		age := s.Ages.Age(ue.ID, dir)
		ageSum += age
		report.MaxAge = max(report.MaxAge, age)
		if ue.HasPendingData(dir) {
			report.Backlog++
		}
	}
	if len(ues) > 0 {
		report.MeanAge = float64(ageSum) / float64(len(ues))
	}
	s.Metrics.recordSlot(report)

	if s.Trace.Enabled() {
		for _, a := range result.Assignments {
			s.Trace.RecordGrant(trace.GrantRecord{
				Slot: pool.Slot, Direction: dir.String(), Ue: uint16(a.Ue), Rank: a.Rank,
				Metric: a.Metric, Units: a.Units, Bytes: a.Bytes, Partial: a.Partial,
			})
		}
		for _, id := range result.Skipped {
			s.Trace.RecordGrant(trace.GrantRecord{
				Slot: pool.Slot, Direction: dir.String(), Ue: uint16(id), Metric: s.ues[id].Metric(dir), Skipped: true,
			})
		}
	}
	for _, o := range s.observers {
		o.OnSlot(report)
	}
}

// drainOrder is the channel order grants are served in: priority value, then channel ID.
func drainOrder(ue *UeRecord, dir Direction) []ChannelID {
	chans := ue.Channels(dir)
	sort.SliceStable(chans, func(i, j int) bool { return chans[i].Priority < chans[j].Priority })
	ids := make([]ChannelID, len(chans))
	for i, lc := range chans {
		ids[i] = lc.ID
	}
	return ids
}

func (s *Simulator) commit(dir Direction, slot int64, a Assignment) {
	ue := s.ues[a.Ue]
	order := drainOrder(ue, dir)
	ue.Consume(dir, a.Bytes)
	packets := s.buffers[a.Ue][dir].Drain(a.Bytes, order)

	process := s.harqSeq[a.Ue]
	s.harqSeq[a.Ue] = (process + 1) % 16
	span := ctrl.ResourceSpan{Start: a.SpanStart, Length: a.Units}
	var feedbackDelay int64
	if dir == Uplink {
		s.emit(ctrl.UlGrant{Rnti: uint16(a.Ue), Slot: slot, Span: span, K2: uint8(s.Config.K2), TbsBytes: a.Bytes})
		feedbackDelay = s.Config.K2
	} else {
		s.emit(ctrl.DlGrant{Rnti: uint16(a.Ue), Slot: slot, Span: span, K0: 0, K1: uint8(s.Config.K1), TbsBytes: a.Bytes})
		feedbackDelay = s.Config.K1
	}

	ack := s.link.Decode(a.Ue, dir, ue.ChannelQuality(dir), a.Units)
	s.Schedule(NewHarqFeedbackEvent(s.at(slot+max(feedbackDelay, 1)), a.Ue, dir, process, ack, packets, s.nextEventID()))
	if dir == Uplink {
		s.requestBsr(a.Ue, s.at(slot+s.Config.K2))
	}
}

// requestBsr schedules a buffer-status report unless one is already pending.
func (s *Simulator) requestBsr(ue UeID, slot int64) {
	if s.pendingBsr[ue] {
		return
	}
	s.pendingBsr[ue] = true
	s.Schedule(NewBufferStatusEvent(slot, ue, s.nextEventID()))
}

func (s *Simulator) refreshDownlink() {
	for _, ue := range s.Ues() {
		report := s.buffers[ue.ID][Downlink].Report(ue.ID, ctrl.LinkDownlink, ue.Channels(Downlink))
		s.applyBufferStatus(ue, Downlink, report)
	}
}

func (s *Simulator) handleAttach(e *AttachEvent) {
	spec := e.Spec
	if _, exists := s.ues[spec.ID]; exists {
		logrus.Warnf("[slot %07d] ue %d already attached, ignoring attach", s.Clock, spec.ID)
		return
	}
	ue := s.Scheduler.NewUe(spec.ID)
	for _, lc := range spec.Uplink {
		ue.AddChannel(Uplink, lc)
	}
	for _, lc := range spec.Downlink {
		ue.AddChannel(Downlink, lc)
	}
	for _, d := range Directions {
		cqi := spec.Cqi
		if cqi == 0 {
			cqi = s.link.ChannelQuality(spec.ID, d, s.Clock)
		}
		ue.SetChannelQuality(d, cqi)
	}
	s.ues[spec.ID] = ue
	s.buffers[spec.ID] = &[numDirections]*TxBuffer{NewTxBuffer(), NewTxBuffer()}
	s.Ages.Track(spec.ID, s.Clock)
	if s.Config.CqiPeriod > 0 {
		s.Schedule(NewCqiReportEvent(s.Clock+s.Config.CqiPeriod, spec.ID, s.nextEventID()))
	}
	logrus.Infof("[slot %07d] ue %d attached (%d ul / %d dl channels)", s.Clock, spec.ID, len(spec.Uplink), len(spec.Downlink))
}

func (s *Simulator) handleDetach(e *DetachEvent) {
	if _, ok := s.ues[e.Ue]; !ok {
		return
	}
	delete(s.ues, e.Ue)
	delete(s.buffers, e.Ue)
	delete(s.pendingBsr, e.Ue)
	delete(s.harqSeq, e.Ue)
	s.Ages.Forget(e.Ue)
	logrus.Infof("[slot %07d] ue %d detached", s.Clock, e.Ue)
}

func (s *Simulator) handleCqiReport(e *CqiReportEvent) {
	if _, ok := s.ues[e.Ue]; !ok {
		return
	}
	for _, d := range Directions {
		if !s.enabled[d] {
			continue
		}
		link := ctrl.LinkUplink
		if d == Downlink {
			link = ctrl.LinkDownlink
		}
		report := ctrl.DlCqiReport{Rnti: uint16(e.Ue), Link: link, WidebandCqi: s.link.ChannelQuality(e.Ue, d, s.Clock)}
		if err := s.HandleControl(report); err != nil {
			logrus.Warnf("[slot %07d] %v", s.Clock, err)
		}
	}
	s.Schedule(NewCqiReportEvent(s.Clock+s.Config.CqiPeriod, e.Ue, s.nextEventID()))
}

func (s *Simulator) handleArrival(e *ArrivalEvent) {
	a := e.Arrival
	ue, ok := s.ues[a.Ue]
	if !ok {
		logrus.Debugf("[slot %07d] arrival for detached ue %d dropped", s.Clock, a.Ue)
		return
	}
	if ue.Channel(a.Direction, a.Channel) == nil {
		logrus.Warnf("[slot %07d] ue %d has no %s channel %d, arrival dropped", s.Clock, a.Ue, a.Direction, a.Channel)
		return
	}
	s.buffers[a.Ue][a.Direction].Push(Packet{Channel: a.Channel, Created: s.Clock, Bytes: a.Bytes})
	s.Metrics.BytesArrived[a.Direction] += a.Bytes
	if a.Direction == Uplink {
		s.requestBsr(a.Ue, s.Clock+s.Config.BsrDelay)
	}
}

func (s *Simulator) handleBufferStatus(e *BufferStatusEvent) {
	delete(s.pendingBsr, e.Ue)
	ue, ok := s.ues[e.Ue]
	if !ok {
		return
	}
	report := s.buffers[e.Ue][Uplink].Report(e.Ue, ctrl.LinkUplink, ue.Channels(Uplink))
	if err := s.HandleControl(report); err != nil {
		logrus.Warnf("[slot %07d] %v", s.Clock, err)
	}
}

func (s *Simulator) handleHarqFeedback(e *HarqFeedbackEvent) {
	if _, ok := s.ues[e.Ue]; !ok {
		return
	}
	link := ctrl.LinkUplink
	if e.Direction == Downlink {
		link = ctrl.LinkDownlink
	}
	if err := s.HandleControl(ctrl.HarqFeedback{Rnti: uint16(e.Ue), Link: link, ProcessID: e.ProcessID, Ack: e.Ack}); err != nil {
		logrus.Warnf("[slot %07d] %v", s.Clock, err)
	}
	var bytes int64
	for _, p := range e.Packets {
		bytes += p.Bytes
	}
	s.Metrics.recordHarq(e.Direction, e.Ack, bytes)
	if e.Ack {
		return
	}
	s.buffers[e.Ue][e.Direction].Requeue(e.Packets)
	if e.Direction == Uplink {
		s.requestBsr(e.Ue, s.Clock+s.Config.BsrDelay)
	}
}

// HandleControl applies an inbound control message to the UE records.
// Grants are outbound only and rejected. Broadcast system information is accepted and
// only logged.
func (s *Simulator) HandleControl(msg ctrl.Message) error {
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("invalid %s: %w", msg.Type(), err)
	}
	switch m := msg.(type) {
	case ctrl.BufferStatusReport:
		ue, err := s.lookupRnti(m.Rnti, msg.Type())
		if err != nil {
			return err
		}
		s.applyBufferStatus(ue, linkDirection(m.Link), m)
	case ctrl.SchedulingRequest:
		ue, err := s.lookupRnti(m.Rnti, msg.Type())
		if err != nil {
			return err
		}
		delay := ctrl.HeadOfLineDelay(m.AgeQueue, s.Clock)
		for _, lc := range ue.ActiveChannels(Uplink) {
			lc.QueueDelay = max(lc.QueueDelay, delay)
		}
		s.requestBsr(ue.ID, s.Clock+s.Config.BsrDelay)
	case ctrl.HarqFeedback:
		ue, err := s.lookupRnti(m.Rnti, msg.Type())
		if err != nil {
			return err
		}
		ue.SetHarqResult(linkDirection(m.Link), m.Ack)
	case ctrl.DlCqiReport:
		ue, err := s.lookupRnti(m.Rnti, msg.Type())
		if err != nil {
			return err
		}
		ue.SetChannelQuality(linkDirection(m.Link), m.WidebandCqi)
	case ctrl.MasterInformationBlock, ctrl.SystemInformationBlock1:
		logrus.Debugf("[slot %07d] %s received", s.Clock, msg.Type())
	case ctrl.UlGrant, ctrl.DlGrant:
		return fmt.Errorf("%s is issued by the scheduler, not accepted by it", msg.Type())
	default:
		return fmt.Errorf("unsupported control message %T", msg)
	}
	s.emit(msg)
	return nil
}

func (s *Simulator) lookupRnti(rnti uint16, t ctrl.MessageType) (*UeRecord, error) {
	ue, ok := s.ues[UeID(rnti)]
	if !ok {
		return nil, fmt.Errorf("%s from ue %d: %w", t, rnti, ErrUnknownUe)
	}
	return ue, nil
}

func linkDirection(l ctrl.Link) Direction {
	if l == ctrl.LinkDownlink {
		return Downlink
	}
	return Uplink
}

// applyBufferStatus overwrites the scheduler's buffer view with a report. A group's
// size is credited to its lowest-ID channel; channels of unreported groups are emptied.
func (s *Simulator) applyBufferStatus(ue *UeRecord, dir Direction, report ctrl.BufferStatusReport) {
	groups := make(map[uint8]ctrl.GroupBuffer, len(report.Groups))
	for _, g := range report.Groups {
		groups[g.Group] = g
	}
	credited := make(map[uint8]bool, len(groups))
	for _, lc := range ue.Channels(dir) {
		g, ok := groups[lc.Group]
		if !ok || credited[lc.Group] || g.Bytes == 0 {
			lc.PendingBytes = 0
			lc.QueueDelay = 0
			continue
		}
		credited[lc.Group] = true
		lc.PendingBytes = g.Bytes
		lc.QueueDelay = ctrl.HeadOfLineDelay(g.AgeQueue, s.Clock)
	}
}

func (s *Simulator) emit(msg ctrl.Message) {
	for _, o := range s.observers {
		o.OnControl(msg)
	}
}
