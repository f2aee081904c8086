package ingest

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net"
	"path"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// DumpOptions configures the FTP dump adapter.
type DumpOptions struct {
	Addr     string // host or host:port, port 21 assumed
	User     string
	Password string
	Dir      string // remote directory holding per-category dumps
	Timeout  time.Duration
}

// DumpAdapter pulls candidates from wire-service bulk dumps exposed over
// FTP: one NDJSON file per category (e.g. politics.ndjson), one article per
// line. Keyword pulls scan the matching category files client-side.
type DumpAdapter struct {
	opts DumpOptions
}

// NewDumpAdapter creates the FTP dump adapter.
func NewDumpAdapter(opts DumpOptions) *DumpAdapter {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.User == "" {
		opts.User = "anonymous"
		opts.Password = "anonymous@"
	}
	return &DumpAdapter{opts: opts}
}

func (a *DumpAdapter) Name() string { return "ftp-dump" }

// dumpLine is one NDJSON record in a dump file.
type dumpLine struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	URL         string    `json:"url"`
	Source      string    `json:"source"`
	Category    string    `json:"category"`
	PublishedAt time.Time `json:"published_at"`
}

func (a *DumpAdapter) Pull(ctx context.Context, req PullRequest) ([]Candidate, error) {
	conn, err := a.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Quit() //nolint:errcheck

	category := req.Category
	if category == "" {
		// Keyword searches scan the combined dump.
		category = "all"
	}
	remote := path.Join(a.opts.Dir, category+".ndjson")

	resp, err := conn.Retr(remote)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: ftp retrieve %s", remote)
	}
	defer resp.Close()

	candidates, skipped, err := scanDump(resp, req)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: scan dump %s", remote)
	}

	zap.L().Debug("dump pull complete",
		zap.String("remote", remote),
		zap.Int("returned", len(candidates)),
		zap.Int("skipped", skipped),
	)
	return candidates, nil
}

// scanDump reads NDJSON records, skipping malformed or incomplete lines. A
// non-positive limit means unbounded.
func scanDump(r io.Reader, req PullRequest) ([]Candidate, int, error) {
	var candidates []Candidate
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	skipped := 0
	for scanner.Scan() {
		if req.Limit > 0 && len(candidates) >= req.Limit {
			break
		}
		var line dumpLine
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			skipped++
			continue
		}
		if line.Title == "" || line.URL == "" {
			skipped++
			continue
		}
		if req.Keyword != "" && !matchesKeyword(line, req.Keyword) {
			continue
		}
		candidates = append(candidates, Candidate{
			Title:       line.Title,
			Description: line.Description,
			URL:         line.URL,
			Source:      line.Source,
			PublishedAt: line.PublishedAt,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, 0, err
	}
	return candidates, skipped, nil
}

func (a *DumpAdapter) dial(ctx context.Context) (*ftp.ServerConn, error) {
	addr := a.opts.Addr
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, "21")
	}

	conn, err := ftp.Dial(addr, ftp.DialWithTimeout(a.opts.Timeout), ftp.DialWithContext(ctx))
	if err != nil {
		return nil, eris.Wrap(err, "ingest: ftp dial")
	}
	if err := conn.Login(a.opts.User, a.opts.Password); err != nil {
		conn.Quit() //nolint:errcheck
		return nil, eris.Wrap(err, "ingest: ftp login")
	}
	return conn, nil
}

func matchesKeyword(line dumpLine, keyword string) bool {
	kw := strings.ToLower(keyword)
	return strings.Contains(strings.ToLower(line.Title), kw) ||
		strings.Contains(strings.ToLower(line.Description), kw)
}
