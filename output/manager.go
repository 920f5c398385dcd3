package output

import (
	"fmt"
	"sort"
	"sync"

	"github.com/gogpu/wgpu/hal"

	"github.com/luxcast/luxcast"
	igpu "github.com/luxcast/luxcast/internal/gpu"
	"github.com/luxcast/luxcast/sink"
	"github.com/luxcast/luxcast/timing"
)

// Manager owns the screens and slices configuration and all runtime GPU
// resources, and schedules the render of one frame end-to-end.
//
// All mutation happens on the render thread; collaborators post actions
// through the engine's queue. Runtime-to-runtime navigation goes through
// ids and lookups here, never through back references.
type Manager struct {
	mu sync.Mutex

	ctx       *igpu.Context
	pipelines *pipelineSet

	screens  map[uint32]*Screen
	order    []uint32 // screen render order
	runtimes map[uint32]*ScreenRuntime

	// windows maps Display screens to host-provided window ids.
	windows map[uint32]uint64

	nextScreenID uint32
	nextSliceID  uint32

	// maskStamps bump whenever a slice's mask config changes, driving
	// mask re-rasterization.
	maskStamps map[uint32]uint64

	// health tracks per-screen render status for the current frame.
	health map[uint32]luxcast.Health

	dirty bool

	// frameBindGroups are released after each submit.
	frameBindGroups []hal.BindGroup

	// streamPortBase assigns listen ports for NDI-style stream sinks
	// that do not carry an explicit port.
	streamPortBase uint16
}

// NewManager creates a manager and its shared GPU resources.
func NewManager(ctx *igpu.Context) (*Manager, error) {
	pipelines, err := newPipelineSet(ctx)
	if err != nil {
		return nil, luxcast.WithKind(luxcast.KindResourceAllocation, err)
	}
	return &Manager{
		ctx:            ctx,
		pipelines:      pipelines,
		screens:        make(map[uint32]*Screen),
		runtimes:       make(map[uint32]*ScreenRuntime),
		windows:        make(map[uint32]uint64),
		maskStamps:     make(map[uint32]uint64),
		health:         make(map[uint32]luxcast.Health),
		nextScreenID:   1,
		nextSliceID:    1,
		streamPortBase: 7400,
	}, nil
}

// Dirty reports whether the configuration changed since the last
// ClearDirty.
func (m *Manager) Dirty() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dirty
}

// ClearDirty resets the dirty flag. Clearing is explicit; no render path
// does it implicitly.
func (m *Manager) ClearDirty() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dirty = false
}

func (m *Manager) markDirty() { m.dirty = true }

// AddScreen creates an enabled virtual screen and returns its id.
func (m *Manager) AddScreen(name string, width, height uint32) uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextScreenID
	m.nextScreenID++
	m.screens[id] = NewScreen(id, name, width, height)
	m.order = append(m.order, id)
	m.markDirty()
	luxcast.Logger().Info("screen added", "screen", id, "name", name,
		"size", fmt.Sprintf("%dx%d", width, height))
	return id
}

// RemoveScreen deletes a screen and its runtime.
func (m *Manager) RemoveScreen(screenID uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.screens[screenID]; !ok {
		return fmt.Errorf("%w: %d", ErrScreenNotFound, screenID)
	}
	if rt, ok := m.runtimes[screenID]; ok {
		rt.release(m.ctx)
		delete(m.runtimes, screenID)
	}
	delete(m.screens, screenID)
	delete(m.windows, screenID)
	delete(m.health, screenID)
	for i, id := range m.order {
		if id == screenID {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	m.markDirty()
	return nil
}

// UpdateScreen replaces a screen's configuration wholesale, preserving its
// slices. An NDI device name is mangled to stay unique across screens.
func (m *Manager) UpdateScreen(updated Screen) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.screens[updated.ID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrScreenNotFound, updated.ID)
	}

	if updated.Device.Kind == DeviceNDI {
		updated.Device.Name = m.uniqueStreamName(updated.ID, updated.Device.Name)
	}

	updated.Slices = existing.Slices
	*existing = updated
	m.markDirty()
	return nil
}

// uniqueStreamName mangles name so no other screen's NDI output collides.
// Caller holds the lock.
func (m *Manager) uniqueStreamName(screenID uint32, name string) string {
	taken := make(map[string]bool)
	for id, s := range m.screens {
		if id != screenID && s.Device.Kind == DeviceNDI && s.Device.Name != "" {
			taken[s.Device.Name] = true
		}
	}
	return UniqueNDIName(name, taken)
}

// Screen returns a copy-safe pointer to a screen's configuration.
func (m *Manager) Screen(screenID uint32) (*Screen, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.screens[screenID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrScreenNotFound, screenID)
	}
	return s, nil
}

// ScreenIDs returns every screen id in render order.
func (m *Manager) ScreenIDs() []uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]uint32(nil), m.order...)
}

// EnabledScreenIDs returns the enabled screens in render order.
func (m *Manager) EnabledScreenIDs() []uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []uint32
	for _, id := range m.order {
		if s := m.screens[id]; s != nil && s.Enabled {
			ids = append(ids, id)
		}
	}
	return ids
}

// AddSlice appends a full-frame slice to a screen and returns its id.
func (m *Manager) AddSlice(screenID uint32, name string) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.screens[screenID]
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrScreenNotFound, screenID)
	}
	id := m.nextSliceID
	m.nextSliceID++
	s.Slices = append(s.Slices, NewSlice(id, name))
	m.markDirty()
	return id, nil
}

// RemoveSlice deletes a slice and its runtime.
func (m *Manager) RemoveSlice(screenID, sliceID uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.screens[screenID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrScreenNotFound, screenID)
	}
	idx := s.sliceIndex(sliceID)
	if idx < 0 {
		return fmt.Errorf("%w: %d", ErrSliceNotFound, sliceID)
	}
	s.Slices = append(s.Slices[:idx], s.Slices[idx+1:]...)
	if rt, ok := m.runtimes[screenID]; ok {
		rt.removeSlice(m.ctx, sliceID)
	}
	delete(m.maskStamps, sliceID)
	m.markDirty()
	return nil
}

// MoveSliceUp moves a slice one position earlier in presentation order.
func (m *Manager) MoveSliceUp(screenID, sliceID uint32) error {
	return m.moveSlice(screenID, sliceID, -1)
}

// MoveSliceDown moves a slice one position later in presentation order.
func (m *Manager) MoveSliceDown(screenID, sliceID uint32) error {
	return m.moveSlice(screenID, sliceID, +1)
}

func (m *Manager) moveSlice(screenID, sliceID uint32, delta int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.screens[screenID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrScreenNotFound, screenID)
	}
	idx := s.sliceIndex(sliceID)
	if idx < 0 {
		return fmt.Errorf("%w: %d", ErrSliceNotFound, sliceID)
	}
	to := idx + delta
	if to < 0 || to >= len(s.Slices) {
		return nil // already at the boundary
	}
	s.Slices[idx], s.Slices[to] = s.Slices[to], s.Slices[idx]
	m.markDirty()
	return nil
}

// UpdateSlice replaces a slice's configuration wholesale. The update is
// normalized and validated first; an invalid update is rejected with the
// old state preserved.
func (m *Manager) UpdateSlice(screenID uint32, updated Slice) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.screens[screenID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrScreenNotFound, screenID)
	}
	existing := s.FindSlice(updated.ID)
	if existing == nil {
		return fmt.Errorf("%w: %d", ErrSliceNotFound, updated.ID)
	}

	if err := updated.Normalize(); err != nil {
		return luxcast.WithKind(luxcast.KindConfigInvalid, err)
	}

	if maskChanged(existing.Mask, updated.Mask) {
		m.maskStamps[updated.ID]++
	}
	*existing = updated
	m.markDirty()
	return nil
}

// UpdateScreenInputRect repositions the screen's sampled region of the
// environment: every environment-input slice takes the given rect as its
// input crop. Layer-input slices are untouched.
func (m *Manager) UpdateScreenInputRect(screenID uint32, rect Rect) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.screens[screenID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrScreenNotFound, screenID)
	}
	clamped := rect.Clamp()
	for _, sl := range s.Slices {
		if sl.Input.Kind == InputEnvironment {
			sl.InputRect = clamped
		}
	}
	m.markDirty()
	return nil
}

// UpdateSliceInputRect updates just the input crop, clamped.
func (m *Manager) UpdateSliceInputRect(screenID, sliceID uint32, rect Rect) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.screens[screenID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrScreenNotFound, screenID)
	}
	sl := s.FindSlice(sliceID)
	if sl == nil {
		return fmt.Errorf("%w: %d", ErrSliceNotFound, sliceID)
	}
	sl.InputRect = rect.Clamp()
	m.markDirty()
	return nil
}

// maskChanged reports whether two mask configs differ in any rasterized
// attribute.
func maskChanged(a, b *SliceMask) bool {
	if (a == nil) != (b == nil) {
		return true
	}
	if a == nil {
		return false
	}
	if a.Enabled != b.Enabled || a.Inverted != b.Inverted || a.Feather != b.Feather {
		return true
	}
	if a.Shape.Kind != b.Shape.Kind {
		return true
	}
	if a.Shape.X != b.Shape.X || a.Shape.Y != b.Shape.Y || a.Shape.W != b.Shape.W || a.Shape.H != b.Shape.H {
		return true
	}
	if a.Shape.Center != b.Shape.Center || a.Shape.RadiusX != b.Shape.RadiusX || a.Shape.RadiusY != b.Shape.RadiusY {
		return true
	}
	if len(a.Shape.Points) != len(b.Shape.Points) || len(a.Shape.Segments) != len(b.Shape.Segments) {
		return true
	}
	for i := range a.Shape.Points {
		if a.Shape.Points[i] != b.Shape.Points[i] {
			return true
		}
	}
	for i := range a.Shape.Segments {
		if a.Shape.Segments[i] != b.Shape.Segments[i] {
			return true
		}
	}
	return false
}

// Health returns the per-screen health of the last rendered frame.
func (m *Manager) Health(screenID uint32) luxcast.Health {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.health[screenID]
}

// SinkDroppedFrames returns the rolling drop count for a screen's sink.
func (m *Manager) SinkDroppedFrames(screenID uint32) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rt, ok := m.runtimes[screenID]; ok && rt.sink != nil {
		return rt.sink.DroppedFrames()
	}
	return 0
}

// SinkState returns a screen's sink lifecycle state.
func (m *Manager) SinkState(screenID uint32) SinkState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rt, ok := m.runtimes[screenID]; ok {
		return rt.state
	}
	return SinkIdle
}

// PendingDisplayWindows lists (screenID, displayID) for enabled Display
// screens that have no associated window yet. Hosts answer by creating a
// window and calling SetWindowForScreen.
func (m *Manager) PendingDisplayWindows() [][2]uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()

	var pending [][2]uint32
	for _, id := range m.order {
		s := m.screens[id]
		if s == nil || !s.Enabled || s.Device.Kind != DeviceDisplay {
			continue
		}
		if _, has := m.windows[id]; !has {
			pending = append(pending, [2]uint32{id, s.Device.DisplayID})
		}
	}
	return pending
}

// StaleDisplayWindows lists screens holding a window binding although
// they are disabled or no longer Display devices. Hosts close those
// windows and call RemoveWindowForScreen.
func (m *Manager) StaleDisplayWindows() []uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()

	var stale []uint32
	for id := range m.windows {
		s, ok := m.screens[id]
		if !ok || !s.Enabled || s.Device.Kind != DeviceDisplay {
			stale = append(stale, id)
		}
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i] < stale[j] })
	return stale
}

// SetWindowForScreen binds a host window to a Display screen.
func (m *Manager) SetWindowForScreen(screenID uint32, windowID uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.windows[screenID] = windowID
}

// RemoveWindowForScreen unbinds a screen's window, returning the window id
// and whether one was bound.
func (m *Manager) RemoveWindowForScreen(screenID uint32) (uint64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.windows[screenID]
	delete(m.windows, screenID)
	return id, ok
}

// WindowForScreen returns the window bound to a screen.
func (m *Manager) WindowForScreen(screenID uint32) (uint64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.windows[screenID]
	return id, ok
}

// ScreenForWindow returns the screen a window presents.
func (m *Manager) ScreenForWindow(windowID uint64) (uint32, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for sid, wid := range m.windows {
		if wid == windowID {
			return sid, true
		}
	}
	return 0, false
}

// ExportScreens deep-copies the screen configurations for serialization.
func (m *Manager) ExportScreens() []Screen {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Screen, 0, len(m.order))
	for _, id := range m.order {
		s := m.screens[id]
		copied := *s
		copied.Slices = make([]*Slice, len(s.Slices))
		for i, sl := range s.Slices {
			c := *sl
			if sl.Perspective != nil {
				p := *sl.Perspective
				c.Perspective = &p
			}
			if sl.Mesh != nil {
				mesh := *sl.Mesh
				mesh.Points = append([]WarpPoint(nil), sl.Mesh.Points...)
				c.Mesh = &mesh
			}
			if sl.Mask != nil {
				mask := *sl.Mask
				mask.Shape.Points = append([]Point(nil), sl.Mask.Shape.Points...)
				mask.Shape.Segments = append([]BezierSegment(nil), sl.Mask.Shape.Segments...)
				c.Mask = &mask
			}
			copied.Slices[i] = &c
		}
		out = append(out, copied)
	}
	return out
}

// ImportScreens replaces the whole configuration, e.g. on preset load.
// Runtimes for vanished screens are released; id counters advance past
// every imported id.
func (m *Manager) ImportScreens(screens []Screen) {
	m.mu.Lock()
	defer m.mu.Unlock()

	keep := make(map[uint32]bool, len(screens))
	for i := range screens {
		keep[screens[i].ID] = true
	}
	for id, rt := range m.runtimes {
		if !keep[id] {
			rt.release(m.ctx)
			delete(m.runtimes, id)
		}
	}

	m.screens = make(map[uint32]*Screen, len(screens))
	m.order = m.order[:0]
	for i := range screens {
		s := screens[i]
		m.screens[s.ID] = &s
		m.order = append(m.order, s.ID)
		if s.ID >= m.nextScreenID {
			m.nextScreenID = s.ID + 1
		}
		for _, sl := range s.Slices {
			if sl.ID >= m.nextSliceID {
				m.nextSliceID = sl.ID + 1
			}
		}
	}
	m.markDirty()
}

// SyncRuntime reconciles one screen's runtime against its configuration:
// texture sizes, the delay ring (delay ms at the active FPS), sink state,
// and slice runtime presence, removing orphans.
func (m *Manager) SyncRuntime(screenID uint32, targetFPS float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.screens[screenID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrScreenNotFound, screenID)
	}

	rt, ok := m.runtimes[screenID]
	if !ok {
		var err error
		rt, err = newScreenRuntime(m.ctx, screenID, s.Width, s.Height)
		if err != nil {
			m.health[screenID] = luxcast.HealthError
			return err
		}
		m.runtimes[screenID] = rt
	}

	if err := rt.resize(m.ctx, s.Width, s.Height); err != nil {
		m.health[screenID] = luxcast.HealthError
		return err
	}

	if err := rt.delay.SetDelayFrames(timing.DelayFrames(s.DelayMS, targetFPS)); err != nil {
		return err
	}

	// Slice runtimes: ensure present, drop orphans.
	present := make(map[uint32]bool, len(s.Slices))
	for _, sl := range s.Slices {
		present[sl.ID] = true
		if _, err := rt.ensureSlice(m.ctx, sl.ID); err != nil {
			return err
		}
	}
	for id := range rt.slices {
		if !present[id] {
			rt.removeSlice(m.ctx, id)
		}
	}

	m.syncSink(s, rt, targetFPS)
	return nil
}

// syncSink drives the sink lifecycle state machine for one screen. Caller
// holds the lock.
func (m *Manager) syncSink(s *Screen, rt *ScreenRuntime, targetFPS float64) {
	want := s.Enabled && wantsSink(s.Device.Kind)

	if !want {
		if rt.sink != nil {
			rt.state = SinkDraining
			_ = rt.sink.Close()
			rt.sink = nil
			rt.share = nil
			rt.stream = nil
			luxcast.Logger().Info("sink stopped", "screen", s.ID)
		}
		if rt.state != SinkError || s.Device.Kind == DeviceVirtual || s.Device.Kind == DeviceDisplay {
			rt.state = SinkIdle
		}
		return
	}

	// A live sink that still matches keeps running.
	if rt.sink != nil && rt.sink.DimensionsMatch(rt.width, rt.height) && rt.state == SinkActive {
		return
	}

	// Rebind (first bind, size change, or device variant change).
	if rt.sink != nil {
		rt.state = SinkDraining
		_ = rt.sink.Close()
		rt.sink = nil
		rt.share = nil
		rt.stream = nil
	}

	rt.state = SinkAllocating
	newSink, share, stream := m.buildSink(s)
	if err := newSink.Bind(rt.width, rt.height, targetFPS); err != nil {
		rt.state = SinkError
		_ = newSink.Close()
		luxcast.Logger().Error("sink init failed",
			"screen", s.ID, "kind", string(s.Device.Kind), "err",
			luxcast.WithKind(luxcast.KindSinkFatal, err))
		return
	}
	rt.sink = newSink
	rt.share = share
	rt.stream = stream
	rt.state = SinkActive
	luxcast.Logger().Info("sink started",
		"screen", s.ID, "kind", string(s.Device.Kind), "name", s.Device.Name)
}

// buildSink constructs the sink variant for a screen's device. Caller
// holds the lock.
func (m *Manager) buildSink(s *Screen) (sink.Sink, *sink.ShareSink, *sink.StreamSink) {
	switch s.Device.Kind {
	case DeviceShare:
		share := sink.NewShareSink(s.Device.Name)
		return share, share, nil
	case DeviceOMT:
		port := s.Device.Port
		if port == 0 {
			port = m.streamPortBase + uint16(s.ID)
		}
		stream := sink.NewStreamSink(m.ctx, s.Device.Name, fmt.Sprintf(":%d", port))
		return stream, nil, stream
	default: // DeviceNDI
		stream := sink.NewStreamSink(m.ctx, s.Device.Name,
			fmt.Sprintf(":%d", m.streamPortBase+uint16(s.ID)))
		return stream, nil, stream
	}
}

// SetStreamCaptureFPS caps the capture rate of a screen's network sink.
func (m *Manager) SetStreamCaptureFPS(screenID uint32, fps float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rt, ok := m.runtimes[screenID]; ok && rt.stream != nil {
		rt.stream.SetCaptureFPS(fps)
	}
}

// ProcessCaptures advances every sink's async pipeline. Called after GPU
// submission completes.
func (m *Manager) ProcessCaptures() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, rt := range m.runtimes {
		if rt.sink == nil {
			continue
		}
		if err := rt.sink.Process(); err != nil {
			luxcast.Logger().Warn("sink process failed", "screen", id, "err", err)
			m.health[id] = luxcast.HealthDegraded
		}
	}
}

// Close releases everything the manager owns.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, rt := range m.runtimes {
		rt.release(m.ctx)
		delete(m.runtimes, id)
	}
	if m.pipelines != nil {
		m.pipelines.destroy()
		m.pipelines = nil
	}
}
