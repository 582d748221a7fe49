package tracing

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/sarchlab/clocksim/datarecording"
	"github.com/sarchlab/clocksim/sim/clocking"
	"github.com/sarchlab/clocksim/sim/timing"
)

type emitter struct {
	*clocking.ClockableBase
}

func (e *emitter) Clock(cycle uint64) {
	clocking.EmitEvent(e, "fetch", cycle)
}

var _ = Describe("Trace hook", func() {
	var (
		mockCtrl *gomock.Controller
		tracer   *MockTracer
		s        *clocking.Server
		e        *emitter
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		tracer = NewMockTracer(mockCtrl)

		s = clocking.NewServer()
		s.NewClockDomain("core", 1*timing.GHz)
		e = &emitter{ClockableBase: clocking.NewClockableBase("core.fe", nil)}
		s.RegisterClock(e, "core", 0)
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should reject attaching the same tracer twice", func() {
		CollectTrace(s, tracer, false)

		Expect(func() { CollectTrace(s, tracer, false) }).To(Panic())
	})

	It("should drop events while tracing is off", func() {
		CollectTrace(s, tracer, false)

		s.RunBaseCycles("core", 2)
	})

	It("should trace events once tracing is on", func() {
		CollectTrace(s, tracer, false)

		var events []Event
		tracer.EXPECT().Trace(gomock.Any()).
			Do(func(ev Event) { events = append(events, ev) }).
			Times(3)

		s.TurnOnDralEvents()
		s.RunBaseCycles("core", 2)

		Expect(events[0].Kind).To(Equal(KindTraceOn))
		Expect(events[1].Kind).To(Equal(KindDral))
		Expect(events[1].What).To(Equal("fetch"))
		Expect(events[1].Where).To(Equal("core.fe"))
		Expect(events[1].Thread).To(Equal("main"))
		Expect(events[2].Cycle).To(Equal(uint64(1)))
		Expect(events[2].Detail).To(Equal("1"))
		Expect(events[2].Time).To(BeNumerically("~", 1e-9, 1e-18))
	})

	It("should trace ticks when asked", func() {
		CollectTrace(s, tracer, true)

		tracer.EXPECT().Trace(gomock.Any()).
			Do(func(ev Event) {
				Expect(ev.Kind).To(Equal(KindTick))
				Expect(ev.Where).To(Equal("core.fe"))
				Expect(ev.Detail).To(Equal("HIGH"))
			}).
			Times(2)

		s.RunBaseCycles("core", 2)
	})

	It("should trace frequency changes", func() {
		CollectTrace(s, tracer, false)

		tracer.EXPECT().Trace(gomock.Any()).
			Do(func(ev Event) {
				Expect(ev.Kind).To(Equal(KindFreqChange))
				Expect(ev.Where).To(Equal("core"))
				Expect(ev.What).To(Equal("2.000000GHz"))
				Expect(ev.Detail).To(Equal("1.000000GHz"))
				Expect(ev.BaseCycle).To(Equal(uint64(3)))
			})

		s.RunBaseCycles("core", 3)
		s.SetDomainFrequency("core", 2*timing.GHz)
	})

	It("should count events per location", func() {
		counter := NewTickCountTracer()
		CollectTrace(s, counter, true)

		s.TurnOnDralEvents()
		s.RunBaseCycles("core", 4)

		Expect(counter.Count("core.fe", KindTick)).To(Equal(uint64(4)))
		Expect(counter.Count("core.fe", KindDral)).To(Equal(uint64(4)))
		Expect(counter.Locations()).To(Equal([]string{"", "core.fe"}))
	})
})

var _ = Describe("DBTracer", func() {
	var (
		mockCtrl   *gomock.Controller
		timeTeller *MockTimeTeller
		dbFile     string
		recorder   datarecording.DataRecorder
		tracer     *DBTracer
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		timeTeller = NewMockTimeTeller(mockCtrl)

		path := filepath.Join(GinkgoT().TempDir(), "trace")
		dbFile = path + ".sqlite3"
		recorder = datarecording.New(path)
		tracer = NewDBTracer(timeTeller, recorder)
	})

	AfterEach(func() {
		recorder.Close()
		mockCtrl.Finish()
	})

	It("should store events only during a session", func() {
		timeTeller.EXPECT().Now().Return(timing.VTimeInFs(1_000_000))
		timeTeller.EXPECT().Now().Return(timing.VTimeInFs(5_000_000))

		tracer.Trace(Event{ID: "0", Kind: KindDral, Time: 0.5e-9})
		tracer.StartTracing()
		Expect(tracer.IsTracing()).To(BeTrue())
		Expect(tracer.CurrentTable()).To(Equal("trace1"))

		tracer.Trace(Event{ID: "1", Kind: KindDral, Time: 2e-9})
		tracer.Trace(Event{ID: "2", Kind: KindDral, Time: 3e-9})
		tracer.StopTracing()
		tracer.Trace(Event{ID: "3", Kind: KindDral, Time: 6e-9})

		Expect(recorder.Close()).To(Succeed())

		reader, err := datarecording.OpenReader(dbFile)
		Expect(err).NotTo(HaveOccurred())
		defer reader.Close()

		ctx := context.Background()
		events, err := datarecording.ReadTable[Event](ctx, reader, "trace1",
			datarecording.Selection{OrderBy: "ID"})
		Expect(err).NotTo(HaveOccurred())
		Expect(events).To(HaveLen(2))
		Expect(events[0].ID).To(Equal("1"))

		sessions, err := datarecording.ReadTable[TraceIndexEntry](ctx, reader,
			TraceIndexTable, datarecording.Selection{})
		Expect(err).NotTo(HaveOccurred())
		Expect(sessions).To(HaveLen(1))
		Expect(sessions[0].TableName).To(Equal("trace1"))
	})

	It("should drop events outside the time range", func() {
		timeTeller.EXPECT().Now().Return(timing.VTimeInFs(0)).AnyTimes()

		tracer.SetTimeRange(1e-9, 2e-9)
		tracer.StartTracing()
		tracer.Trace(Event{ID: "early", Time: 0.5e-9})
		tracer.Trace(Event{ID: "in", Time: 1.5e-9})
		tracer.Trace(Event{ID: "late", Time: 2.5e-9})
		tracer.Terminate()

		Expect(recorder.Close()).To(Succeed())

		reader, err := datarecording.OpenReader(dbFile)
		Expect(err).NotTo(HaveOccurred())
		defer reader.Close()

		total, err := reader.Count(context.Background(), "trace1",
			datarecording.Selection{})
		Expect(err).NotTo(HaveOccurred())
		Expect(total).To(Equal(1))
	})
})

var _ = Describe("Trace writers", func() {
	It("should write events to a CSV file", func() {
		path := filepath.Join(GinkgoT().TempDir(), "trace")
		w := NewCSVTraceWriter(path)
		tracer := NewWriterTracer(w)

		tracer.Trace(Event{ID: "1", Kind: KindDral, What: "fetch",
			Where: "core.fe", Cycle: 3})
		w.Close()

		content, err := os.ReadFile(path + ".csv")
		Expect(err).NotTo(HaveOccurred())
		Expect(string(content)).To(Equal(
			"ID,Kind,What,Where,Thread,BaseCycle,Cycle,Time,Detail\n" +
				"1,dral,fetch,core.fe,,0,3,0,\n"))
	})

	It("should refuse to overwrite a CSV file", func() {
		path := filepath.Join(GinkgoT().TempDir(), "trace")
		Expect(os.WriteFile(path+".csv", nil, 0o644)).To(Succeed())

		Expect(func() { NewCSVTraceWriter(path).Init() }).To(Panic())
	})

	It("should write a JSON array", func() {
		buf := &bytes.Buffer{}
		tracer := NewJSONTracer(buf)

		tracer.Trace(Event{ID: "1", Kind: KindDral})
		tracer.Trace(Event{ID: "2", Kind: KindTick})
		tracer.Finish()
		tracer.Trace(Event{ID: "3", Kind: KindTick})

		var events []Event
		Expect(json.Unmarshal(buf.Bytes(), &events)).To(Succeed())
		Expect(events).To(HaveLen(2))
		Expect(events[1].Kind).To(Equal(KindTick))
	})
})
