// Package scraper fetches a web page and extracts its heading outline.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/seoforge/backend/internal/domain"
)

const maxPageBytes = 5 << 20

var (
	// ErrUnsupportedURL is returned for non-http(s) URLs.
	ErrUnsupportedURL = errors.New("scraper: unsupported url")
	// ErrNoHeadings is returned when a page has neither a title nor headings.
	ErrNoHeadings  = errors.New("scraper: page has no headings")
	errBlockedHost = errors.New("scraper: destination address not allowed")
)

// Options configures a Scraper.
type Options struct {
	Timeout   time.Duration
	UserAgent string
	// AllowPrivateHosts permits loopback and private-network destinations.
	AllowPrivateHosts bool
}

// Scraper is an HTTP heading extractor.
type Scraper struct {
	client    *http.Client
	userAgent string
}

func New(opts Options) *Scraper {
	if opts.Timeout <= 0 {
		opts.Timeout = 20 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "Mozilla/5.0 (compatible; seoforge/1.0)"
	}

	dialer := &net.Dialer{Timeout: 10 * time.Second}
	if !opts.AllowPrivateHosts {
		dialer.Control = denyPrivate
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = dialer.DialContext

	return &Scraper{
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return errors.New("too many redirects")
				}
				return nil
			},
		},
		userAgent: opts.UserAgent,
	}
}

// Extract fetches rawURL and returns the title, first H1 and all H2/H3 texts
// in document order.
func (s *Scraper) Extract(ctx context.Context, rawURL string) (*domain.HeadingTree, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, ErrUnsupportedURL
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("scraper: build request: %w", err)
	}
	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("scraper: fetch %s: %w", u.Host, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("scraper: fetch %s: status %d", u.Host, resp.StatusCode)
	}

	tree, err := Parse(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, err
	}
	if tree.Title == "" && tree.H1 == "" && len(tree.H2s) == 0 {
		return nil, ErrNoHeadings
	}
	return tree, nil
}

// Parse extracts the heading outline from an HTML document.
func Parse(r io.Reader) (*domain.HeadingTree, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("scraper: parse html: %w", err)
	}

	tree := &domain.HeadingTree{H2s: []string{}, H3s: []string{}}
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Title:
				if tree.Title == "" {
					tree.Title = textOf(n)
				}
				return
			case atom.H1:
				if tree.H1 == "" {
					tree.H1 = textOf(n)
				}
				return
			case atom.H2:
				if t := textOf(n); t != "" {
					tree.H2s = append(tree.H2s, t)
				}
				return
			case atom.H3:
				if t := textOf(n); t != "" {
					tree.H3s = append(tree.H3s, t)
				}
				return
			case atom.Script, atom.Style, atom.Noscript, atom.Template:
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return tree, nil
}

// textOf returns the whitespace-collapsed text content of n.
func textOf(n *html.Node) string {
	var b strings.Builder
	var collect func(*html.Node)
	collect = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
			return
		}
		if n.Type == html.ElementNode && (n.DataAtom == atom.Script || n.DataAtom == atom.Style) {
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			collect(c)
		}
	}
	collect(n)
	return strings.Join(strings.Fields(b.String()), " ")
}

func denyPrivate(_, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return err
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return errBlockedHost
	}
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() || ip.IsUnspecified() || ip.IsMulticast() {
		return errBlockedHost
	}
	return nil
}
