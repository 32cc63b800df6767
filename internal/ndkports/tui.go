package ndkports

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

type logInfo struct {
	path    string
	port    string
	abi     string
	content string
}

// logViewer is a tabbed viewer over every per-ABI build log in a work dir.
// Live logs are refreshed while a build is running; finished logs are read
// from their .xz form.
type logViewer struct {
	workDir string
	filter  string // port name, empty for all

	app    *tview.Application
	header *tview.TextView
	body   *tview.TextView
	footer *tview.TextView

	logs      []logInfo
	active    int
	prevIdx   int
	prevText  map[string]string
	updates   chan []logInfo
	forceTail bool
}

func runLogViewer(workDir, port string) int {
	v := &logViewer{
		workDir:  workDir,
		filter:   port,
		prevIdx:  -1,
		prevText: map[string]string{},
		updates:  make(chan []logInfo, 10),
	}
	return v.run()
}

func (v *logViewer) run() int {
	v.app = tview.NewApplication()

	v.header = tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false)
	v.header.SetBorder(true)
	v.header.SetTitle("ndkports build logs")

	v.body = tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false).
		SetScrollable(true).
		SetChangedFunc(func() { v.app.Draw() })
	v.body.SetBorder(true)

	v.footer = tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(true)
	v.footer.SetBorder(true)

	flex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(v.header, 3, 0, false).
		AddItem(v.body, 0, 1, true).
		AddItem(v.footer, 3, 0, false)
	flex.SetInputCapture(v.handleKey)

	go func() {
		ticker := time.NewTicker(500 * time.Millisecond)
		defer ticker.Stop()
		for range ticker.C {
			select {
			case v.updates <- readBuildLogs(v.workDir, v.filter):
			default:
			}
		}
	}()
	go func() {
		for logs := range v.updates {
			logs := logs
			v.app.QueueUpdateDraw(func() {
				v.replaceLogs(logs)
				v.refresh()
			})
		}
	}()

	v.app.SetRoot(flex, true).SetFocus(v.body)
	v.logs = readBuildLogs(v.workDir, v.filter)
	v.refresh()

	if err := v.app.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "log viewer:", err)
		return 1
	}
	return 0
}

// replaceLogs keeps the selection on the same file across refreshes.
func (v *logViewer) replaceLogs(logs []logInfo) {
	var current string
	if v.active < len(v.logs) {
		current = v.logs[v.active].path
	}
	v.logs = logs
	for i, l := range logs {
		if l.path == current {
			v.active = i
			return
		}
	}
	if v.active >= len(logs) {
		v.active = max(len(logs)-1, 0)
	}
}

func (v *logViewer) cycle(delta int) {
	if len(v.logs) == 0 {
		return
	}
	v.active = (v.active + delta + len(v.logs)) % len(v.logs)
	v.forceTail = true
	v.refresh()
}

func (v *logViewer) handleKey(event *tcell.EventKey) *tcell.EventKey {
	row, _ := v.body.GetScrollOffset()
	switch event.Key() {
	case tcell.KeyCtrlQ, tcell.KeyEsc:
		v.app.Stop()
	case tcell.KeyLeft:
		v.cycle(-1)
	case tcell.KeyRight:
		v.cycle(1)
	case tcell.KeyHome:
		v.body.ScrollToBeginning()
	case tcell.KeyEnd:
		v.body.ScrollToEnd()
	case tcell.KeyPgUp:
		v.body.ScrollTo(max(row-10, 0), 0)
	case tcell.KeyPgDn:
		v.body.ScrollTo(row+10, 0)
	case tcell.KeyRune:
		switch event.Rune() {
		case 'q':
			v.app.Stop()
		case 'h':
			v.cycle(-1)
		case 'l':
			v.cycle(1)
		default:
			return event
		}
	default:
		return event
	}
	return nil
}

func (v *logViewer) refresh() {
	if len(v.logs) == 0 {
		v.header.SetText("[gray]No build logs found[white]")
		v.body.SetText("No build log yet. Run 'ndkports buildPort <port>' to start a build.")
		v.footer.SetText("[gray]Press 'q' to quit[white]")
		return
	}
	l := v.logs[v.active]
	v.header.SetText(fmt.Sprintf("[gray]Log %d/%d: %s (%s) %s[white]", v.active+1, len(v.logs), l.port, l.abi, l.path))

	switched := v.prevIdx != v.active
	v.prevIdx = v.active
	if prev, ok := v.prevText[l.path]; ok && prev == l.content && !switched {
		return
	}
	v.body.Clear()
	w := tview.ANSIWriter(v.body)
	_, _ = w.Write([]byte(l.content))
	if switched || v.forceTail {
		v.body.ScrollToEnd()
		v.forceTail = false
	}
	v.prevText[l.path] = l.content

	v.footer.SetText("[gray]" + strings.Join([]string{
		"q/Ctrl+Q quit",
		"←/→ or h/l switch log",
		"PgUp/PgDn scroll",
		"Home/End jump",
	}, " | ") + "[white]")
}

// readBuildLogs lists <workDir>/<port>/logs/<abi>.log{,.xz}, newest first.
// A live .log wins over a stale .log.xz of the same ABI.
func readBuildLogs(workDir, port string) []logInfo {
	pattern := "*"
	if port != "" {
		pattern = port
	}
	plain, _ := filepath.Glob(filepath.Join(workDir, pattern, "logs", "*.log"))
	packed, _ := filepath.Glob(filepath.Join(workDir, pattern, "logs", "*.log.xz"))

	seen := map[string]bool{}
	var paths []string
	for _, p := range plain {
		seen[p] = true
		paths = append(paths, p)
	}
	for _, p := range packed {
		if !seen[strings.TrimSuffix(p, ".xz")] {
			paths = append(paths, p)
		}
	}

	modTime := func(p string) time.Time {
		info, err := os.Stat(p)
		if err != nil {
			return time.Time{}
		}
		return info.ModTime()
	}
	sort.SliceStable(paths, func(i, j int) bool {
		ti, tj := modTime(paths[i]), modTime(paths[j])
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return paths[i] < paths[j]
	})

	logs := make([]logInfo, 0, len(paths))
	for _, p := range paths {
		content, err := readMaybeXZ(p)
		if err != nil {
			content = fmt.Sprintf("failed to read log: %v", err)
		}
		name := strings.TrimSuffix(strings.TrimSuffix(filepath.Base(p), ".xz"), ".log")
		logs = append(logs, logInfo{
			path:    p,
			port:    filepath.Base(filepath.Dir(filepath.Dir(p))),
			abi:     name,
			content: content,
		})
	}
	return logs
}
