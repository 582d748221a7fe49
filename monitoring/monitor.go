// Package monitoring turns a running clock server into a web server that can
// be inspected and controlled from a browser.
package monitoring

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"net"
	"net/http"
	"os"
	"runtime/pprof"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	// Enable profiling
	_ "net/http/pprof"

	"github.com/google/pprof/profile"
	"github.com/gorilla/mux"
	"github.com/pkg/browser"
	"github.com/shirou/gopsutil/process"
	"github.com/syifan/goseth"

	"github.com/sarchlab/clocksim/sim/clocking"
	"github.com/sarchlab/clocksim/sim/id"
	"github.com/sarchlab/clocksim/sim/timing"
)

// Monitor can turn a simulation into a server and allows external monitoring
// controlling of the simulation.
type Monitor struct {
	server      *clocking.Server
	portNumber  int
	openBrowser bool
	ids         id.IDGenerator

	progressBarsLock sync.Mutex
	progressBars     []*ProgressBar
}

// NewMonitor creates a new Monitor
func NewMonitor() *Monitor {
	return &Monitor{
		ids: id.NewIDGenerator(),
	}
}

// WithPortNumber sets the port number of the monitor.
func (m *Monitor) WithPortNumber(portNumber int) *Monitor {
	if portNumber < 1000 {
		fmt.Fprintf(os.Stderr,
			"Port number %d is assigned to the monitoring server, "+
				"which is not allowed. Using a random port instead.\n", portNumber)
		portNumber = 0
	}

	m.portNumber = portNumber

	return m
}

// WithBrowser makes the monitor open the web page once the server starts.
func (m *Monitor) WithBrowser() *Monitor {
	m.openBrowser = true
	return m
}

// RegisterServer registers the clock server that is monitored.
func (m *Monitor) RegisterServer(s *clocking.Server) {
	m.server = s
}

// CreateProgressBar creates a new progress bar.
func (m *Monitor) CreateProgressBar(name string, total uint64) *ProgressBar {
	bar := &ProgressBar{
		ID:        m.ids.Generate(),
		Name:      name,
		StartTime: time.Now(),
		Total:     total,
	}

	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	m.progressBars = append(m.progressBars, bar)

	return bar
}

// CompleteProgressBar removes a bar to be shown on the webpage.
func (m *Monitor) CompleteProgressBar(pb *ProgressBar) {
	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	newBars := make([]*ProgressBar, 0, len(m.progressBars))
	for _, b := range m.progressBars {
		if b != pb {
			newBars = append(newBars, b)
		}
	}

	m.progressBars = newBars
}

func (m *Monitor) newRouter() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/api/pause", m.pauseServer)
	r.HandleFunc("/api/continue", m.continueServer)
	r.HandleFunc("/api/now", m.now)
	r.HandleFunc("/api/run/{domain}/{cycles}", m.run)
	r.HandleFunc("/api/domains", m.listDomains)
	r.HandleFunc("/api/domain/{name}/freq/{ghz}", m.setFrequency)
	r.HandleFunc("/api/threads", m.listThreads)
	r.HandleFunc("/api/list_clockables", m.listClockables)
	r.HandleFunc("/api/clockable/{name}", m.listClockableDetails)
	r.HandleFunc("/api/field/{json}", m.listFieldValue)
	r.HandleFunc("/api/ratematchers", m.listRateMatchers)
	r.HandleFunc("/api/profiles", m.listProfiles)
	r.HandleFunc("/api/progress", m.listProgressBars)
	r.HandleFunc("/api/resource", m.listResources)
	r.HandleFunc("/api/profile", m.collectProfile)
	r.PathPrefix("/debug/pprof/").Handler(http.DefaultServeMux)
	r.PathPrefix("/").Handler(http.FileServer(pageAssets()))

	return r
}

//go:embed dist
var page embed.FS

// PageDirEnv names a directory that replaces the built-in web page, so the
// page can be edited without rebuilding.
const PageDirEnv = "CLOCKSIM_MONITOR_PAGE"

func pageAssets() http.FileSystem {
	if dir := os.Getenv(PageDirEnv); dir != "" {
		log.Printf("monitor: serving the web page from %s", dir)
		return http.Dir(dir)
	}

	dist, err := fs.Sub(page, "dist")
	if err != nil {
		log.Panic(err)
	}

	return http.FS(dist)
}

// StartServer starts the monitor as a web server with a custom port if
// wanted. It returns the port that the server listens on.
func (m *Monitor) StartServer() int {
	r := m.newRouter()

	actualPort := ":0"
	if m.portNumber > 1000 {
		actualPort = ":" + strconv.Itoa(m.portNumber)
	}

	listener, err := net.Listen("tcp", actualPort)
	dieOnErr(err)

	port := listener.Addr().(*net.TCPAddr).Port
	url := fmt.Sprintf("http://localhost:%d", port)

	fmt.Fprintf(os.Stderr, "Monitoring simulation with %s\n", url)

	go func() {
		err := http.Serve(listener, r)
		dieOnErr(err)
	}()

	if m.openBrowser {
		err = browser.OpenURL(url)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Cannot open browser: %v\n", err)
		}
	}

	return port
}

func (m *Monitor) pauseServer(w http.ResponseWriter, _ *http.Request) {
	m.server.Pause()
	_, err := w.Write(nil)
	dieOnErr(err)
}

func (m *Monitor) continueServer(w http.ResponseWriter, _ *http.Request) {
	m.server.Continue()
	_, err := w.Write(nil)
	dieOnErr(err)
}

type nowRsp struct {
	Now     float64 `json:"now"`
	NowInFs uint64  `json:"now_fs"`
	Running bool    `json:"running"`
	Paused  bool    `json:"paused"`
}

func (m *Monitor) now(w http.ResponseWriter, _ *http.Request) {
	now := m.server.Now()

	writeJSON(w, nowRsp{
		Now:     now.InSec(),
		NowInFs: uint64(now),
		Running: m.server.IsRunning(),
		Paused:  m.server.IsPaused(),
	})
}

func (m *Monitor) run(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	d := m.findDomainOr404(w, vars["domain"])
	if d == nil {
		return
	}

	cycles, err := strconv.ParseUint(vars["cycles"], 10, 64)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintf(w, "Error: %s", err)

		return
	}

	go m.server.RunBaseCycles(d.Name(), cycles)

	w.WriteHeader(http.StatusAccepted)
}

type domainRsp struct {
	Name     string    `json:"name"`
	Thread   string    `json:"thread"`
	BaseGHz  float64   `json:"base_ghz"`
	RefGHz   float64   `json:"ref_ghz"`
	FreqsGHz []float64 `json:"freqs_ghz"`
	Frontier uint64    `json:"frontier"`
}

func (m *Monitor) listDomains(w http.ResponseWriter, _ *http.Request) {
	domains := m.server.Domains()
	rsp := make([]domainRsp, 0, len(domains))

	for _, d := range domains {
		freqs := d.Frequencies()
		ghz := make([]float64, 0, len(freqs))

		for _, f := range freqs {
			ghz = append(ghz, f.InGHz())
		}

		rsp = append(rsp, domainRsp{
			Name:     d.Name(),
			Thread:   d.Thread().Name(),
			BaseGHz:  d.BaseFreq().InGHz(),
			RefGHz:   d.ReferenceFreq().InGHz(),
			FreqsGHz: ghz,
			Frontier: d.Frontier(),
		})
	}

	writeJSON(w, rsp)
}

func (m *Monitor) setFrequency(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	d := m.findDomainOr404(w, vars["name"])
	if d == nil {
		return
	}

	ghz, err := strconv.ParseFloat(vars["ghz"], 64)
	if err != nil || !(timing.Freq(ghz) * timing.GHz).IsValid() {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintf(w, "Error: invalid frequency %q", vars["ghz"])

		return
	}

	m.server.SetDomainFrequency(d.Name(), timing.Freq(ghz)*timing.GHz)

	w.WriteHeader(http.StatusOK)
}

type threadRsp struct {
	Name          string   `json:"name"`
	Now           float64  `json:"now"`
	Closed        bool     `json:"closed"`
	Domains       []string `json:"domains"`
	Registrations int      `json:"registrations"`
}

func (m *Monitor) listThreads(w http.ResponseWriter, _ *http.Request) {
	threads := m.server.Threads()
	rsp := make([]threadRsp, 0, len(threads))

	for _, t := range threads {
		names := []string{}
		for _, d := range t.Domains() {
			names = append(names, d.Name())
		}

		rsp = append(rsp, threadRsp{
			Name:          t.Name(),
			Now:           t.Now().InSec(),
			Closed:        t.IsClosed(),
			Domains:       names,
			Registrations: t.NumRegistrations(),
		})
	}

	writeJSON(w, rsp)
}

func (m *Monitor) listClockables(w http.ResponseWriter, _ *http.Request) {
	names := []string{}
	for _, c := range m.server.Clockables() {
		names = append(names, c.Name())
	}

	writeJSON(w, names)
}

func (m *Monitor) listClockableDetails(
	w http.ResponseWriter,
	r *http.Request,
) {
	name := mux.Vars(r)["name"]

	c := m.findClockableOr404(w, name)
	if c == nil {
		return
	}

	serializer := goseth.NewSerializer()
	serializer.SetRoot(c)
	serializer.SetMaxDepth(1)
	err := serializer.Serialize(w)

	dieOnErr(err)
}

type fieldReq struct {
	CompName  string `json:"comp_name,omitempty"`
	FieldName string `json:"field_name,omitempty"`
}

func (m *Monitor) listFieldValue(w http.ResponseWriter, r *http.Request) {
	jsonString := mux.Vars(r)["json"]
	req := fieldReq{}

	err := json.Unmarshal([]byte(jsonString), &req)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintf(w, "Error: %s", err)

		return
	}

	c := m.findClockableOr404(w, req.CompName)
	if c == nil {
		return
	}

	serializer := goseth.NewSerializer()
	serializer.SetRoot(c)
	serializer.SetMaxDepth(1)

	err = serializer.SetEntryPoint(strings.Split(req.FieldName, "."))
	dieOnErr(err)

	err = serializer.Serialize(w)
	dieOnErr(err)
}

type rateMatcherRsp struct {
	Name   string `json:"name"`
	Writer string `json:"writer"`
	Reader string `json:"reader"`
	Level  int    `json:"level"`
	Cap    int    `json:"cap"`
}

func (m *Monitor) listRateMatchers(w http.ResponseWriter, r *http.Request) {
	sortMethod, limit, offset, err := m.rateMatchersParseParams(r)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintf(w, "Error: %s", err)

		return
	}

	selected := m.sortAndSelectRateMatchers(sortMethod, limit, offset)

	rsp := make([]rateMatcherRsp, 0, len(selected))
	for _, rm := range selected {
		rsp = append(rsp, rateMatcherRsp{
			Name:   rm.Name(),
			Writer: rm.Writer().Name(),
			Reader: rm.Reader().Name(),
			Level:  rm.Len(),
			Cap:    clocking.RateMatcherCapacity,
		})
	}

	writeJSON(w, rsp)
}

func (*Monitor) rateMatchersParseParams(
	r *http.Request,
) (sort string, limit, offset int, err error) {
	sortMethod := r.URL.Query().Get("sort")
	if sortMethod == "" {
		sortMethod = "level"
	}

	if sortMethod != "level" && sortMethod != "name" {
		errStr := fmt.Sprintf(
			"Invalid sort method: %s. Allowed values are `level` and `name`",
			sortMethod)
		return "", 0, 0, errors.New(errStr)
	}

	limitNumber, err := intParam(r, "limit")
	if err != nil {
		return sortMethod, 0, 0, err
	}

	offsetNumber, err := intParam(r, "offset")
	if err != nil {
		return sortMethod, limitNumber, 0, err
	}

	return sortMethod, limitNumber, offsetNumber, nil
}

func intParam(r *http.Request, name string) (int, error) {
	str := r.URL.Query().Get(name)
	if str == "" {
		return 0, nil
	}

	n, err := strconv.Atoi(str)
	if err != nil {
		return 0, err
	}

	if n < 0 {
		return 0, fmt.Errorf("%s cannot be negative", name)
	}

	return n, nil
}

// sortAndSelectRateMatchers returns a page of rate matchers. A zero limit
// selects everything after offset.
func (m *Monitor) sortAndSelectRateMatchers(
	sortMethod string,
	limit, offset int,
) []clocking.RateMatcherInfo {
	matchers := m.server.RateMatchers()

	switch sortMethod {
	case "level":
		levels := make(map[clocking.RateMatcherInfo]int, len(matchers))
		for _, rm := range matchers {
			levels[rm] = rm.Len()
		}

		sort.SliceStable(matchers, func(i, j int) bool {
			li, lj := levels[matchers[i]], levels[matchers[j]]
			if li != lj {
				return li > lj
			}

			return matchers[i].Name() < matchers[j].Name()
		})
	case "name":
		sort.SliceStable(matchers, func(i, j int) bool {
			return matchers[i].Name() < matchers[j].Name()
		})
	default:
		panic("Invalid sort method " + sortMethod)
	}

	if offset > len(matchers) {
		offset = len(matchers)
	}

	end := len(matchers)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}

	return matchers[offset:end]
}

type profileRsp struct {
	Name        string  `json:"name"`
	Cycles      uint64  `json:"cycles"`
	Min         uint64  `json:"min"`
	Max         uint64  `json:"max"`
	Avg         float64 `json:"avg"`
	Invocations uint64  `json:"invocations"`
	WrapArounds uint64  `json:"wrap_arounds"`
}

func (m *Monitor) listProfiles(w http.ResponseWriter, _ *http.Request) {
	clockables := m.server.Clockables()
	rsp := make([]profileRsp, 0, len(clockables))

	for _, c := range clockables {
		p := c.Clocking().Profile()
		rsp = append(rsp, profileRsp{
			Name:        p.Name,
			Cycles:      p.Cycles,
			Min:         p.Min,
			Max:         p.Max,
			Avg:         p.Avg(),
			Invocations: p.Invocations,
			WrapArounds: p.WrapArounds,
		})
	}

	writeJSON(w, rsp)
}

func (m *Monitor) findDomainOr404(
	w http.ResponseWriter,
	name string,
) *clocking.Domain {
	d := m.server.Domain(name)
	if d == nil {
		w.WriteHeader(http.StatusNotFound)
		_, err := w.Write([]byte("Domain not found"))
		dieOnErr(err)
	}

	return d
}

func (m *Monitor) findClockableOr404(
	w http.ResponseWriter,
	name string,
) clocking.Clockable {
	for _, c := range m.server.Clockables() {
		if c.Name() == name {
			return c
		}
	}

	w.WriteHeader(http.StatusNotFound)
	_, err := w.Write([]byte("Clockable not found"))
	dieOnErr(err)

	return nil
}

func (m *Monitor) listProgressBars(w http.ResponseWriter, _ *http.Request) {
	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	rsp := make([]progressBarRsp, 0, len(m.progressBars))
	for _, b := range m.progressBars {
		rsp = append(rsp, b.snapshot())
	}

	writeJSON(w, rsp)
}

type resourceRsp struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemorySize uint64  `json:"memory_size"`
}

func (m *Monitor) listResources(w http.ResponseWriter, _ *http.Request) {
	pid := os.Getpid()
	process, err := process.NewProcess(int32(pid))
	dieOnErr(err)

	cpuPercent, err := process.CPUPercent()
	dieOnErr(err)

	memorySize, err := process.MemoryInfo()
	dieOnErr(err)

	writeJSON(w, resourceRsp{
		CPUPercent: cpuPercent,
		MemorySize: memorySize.RSS,
	})
}

func (m *Monitor) collectProfile(w http.ResponseWriter, _ *http.Request) {
	buf := bytes.NewBuffer(nil)

	err := pprof.StartCPUProfile(buf)
	dieOnErr(err)

	time.Sleep(time.Second)

	pprof.StopCPUProfile()

	prof, err := profile.ParseData(buf.Bytes())
	dieOnErr(err)

	writeJSON(w, prof)
}

func writeJSON(w http.ResponseWriter, v any) {
	bytes, err := json.Marshal(v)
	dieOnErr(err)

	w.Header().Set("Content-Type", "application/json")

	_, err = w.Write(bytes)
	dieOnErr(err)
}

func dieOnErr(err error) {
	if err != nil {
		log.Panic(err)
	}
}
