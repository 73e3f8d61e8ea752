package drive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gdrive "google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"github.com/local/pdftoolkit/internal/apperr"
)

// AuthOptions locates the OAuth client secrets and the cached user token.
type AuthOptions struct {
	CredentialsPath string
	TokenPath       string
	// CallbackPorts are tried in order for the loopback redirect.
	CallbackPorts []int
	// Prompt shows the consent URL to the user. Defaults to printing on stderr.
	Prompt func(url string)
}

// Session is an authenticated handle on the remote service. It is created by
// Authenticate and passed explicitly to every remote operation.
type Session struct {
	files Files
}

// NewSession wraps an existing Files implementation.
func NewSession(f Files) *Session { return &Session{files: f} }

// Files returns the remote file operations of the session.
func (s *Session) Files() Files { return s.files }

// Authenticate builds a Session from the credentials and token files. A
// missing or unusable token triggers the interactive loopback flow; the
// resulting token, and any later refresh of it, is written to TokenPath.
func Authenticate(ctx context.Context, opts AuthOptions) (*Session, error) {
	secret, err := os.ReadFile(opts.CredentialsPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, apperr.NotFound("authenticate", opts.CredentialsPath)
		}
		return nil, fmt.Errorf("read credentials: %w", err)
	}
	cfg, err := google.ConfigFromJSON(secret, gdrive.DriveScope)
	if err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}

	tok, err := loadToken(opts.TokenPath)
	if err != nil || !usable(tok) {
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warn().Err(err).Str("token", opts.TokenPath).Msg("ignoring unreadable token file")
		}
		tok, err = authorize(ctx, cfg, opts)
		if err != nil {
			return nil, err
		}
		if err := saveToken(opts.TokenPath, tok); err != nil {
			return nil, err
		}
	}

	src := &persistingSource{base: cfg.TokenSource(ctx, tok), path: opts.TokenPath, last: tok.AccessToken}
	client := oauth2.NewClient(ctx, oauth2.ReuseTokenSource(tok, src))
	svc, err := gdrive.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}
	log.Info().Str("token", opts.TokenPath).Msg("authenticated with Google Drive")
	return NewSession(&driveFiles{svc: svc}), nil
}

func usable(tok *oauth2.Token) bool {
	return tok != nil && (tok.Valid() || tok.RefreshToken != "")
}

func loadToken(path string) (*oauth2.Token, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	tok := &oauth2.Token{}
	if err := json.NewDecoder(f).Decode(tok); err != nil {
		return nil, err
	}
	return tok, nil
}

func saveToken(path string, tok *oauth2.Token) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(tok)
}

// persistingSource writes the token back to disk whenever it changes.
type persistingSource struct {
	base oauth2.TokenSource
	path string

	mu   sync.Mutex
	last string
}

func (s *persistingSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if tok.AccessToken != s.last {
		if err := saveToken(s.path, tok); err != nil {
			log.Warn().Err(err).Msg("failed to persist refreshed token")
		} else {
			log.Debug().Msg("persisted refreshed token")
		}
		s.last = tok.AccessToken
	}
	return tok, nil
}

// listenLoopback binds the first free port of ports on localhost.
func listenLoopback(ports []int) (net.Listener, int, error) {
	var lastErr error
	for _, p := range ports {
		ln, err := net.Listen("tcp", fmt.Sprintf("localhost:%d", p))
		if err == nil {
			return ln, p, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = errors.New("no callback ports configured")
	}
	return nil, 0, fmt.Errorf("no free OAuth callback port: %w", lastErr)
}

func authorize(ctx context.Context, cfg *oauth2.Config, opts AuthOptions) (*oauth2.Token, error) {
	ln, port, err := listenLoopback(opts.CallbackPorts)
	if err != nil {
		return nil, err
	}
	cfg.RedirectURL = fmt.Sprintf("http://localhost:%d/", port)
	state := uuid.NewString()

	codes := make(chan string, 1)
	errs := make(chan error, 1)
	srv := &http.Server{
		ReadHeaderTimeout: 10 * time.Second,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			if q.Get("state") != state {
				http.Error(w, "state mismatch", http.StatusBadRequest)
				return
			}
			if e := q.Get("error"); e != "" {
				fmt.Fprintln(w, "Authorization failed. You may close this window.")
				select {
				case errs <- fmt.Errorf("authorization denied: %s", e):
				default:
				}
				return
			}
			fmt.Fprintln(w, "Authorization complete. You may close this window.")
			select {
			case codes <- q.Get("code"):
			default:
			}
		}),
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			select {
			case errs <- err:
			default:
			}
		}
	}()
	defer srv.Close()

	url := cfg.AuthCodeURL(state, oauth2.AccessTypeOffline)
	prompt := opts.Prompt
	if prompt == nil {
		prompt = func(u string) {
			fmt.Fprintf(os.Stderr, "Open the following URL in a browser to authorize access:\n%s\n", u)
		}
	}
	prompt(url)
	log.Info().Int("port", port).Msg("waiting for OAuth authorization")

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case err := <-errs:
		return nil, err
	case code := <-codes:
		tok, err := cfg.Exchange(ctx, code)
		if err != nil {
			return nil, fmt.Errorf("exchange authorization code: %w", err)
		}
		return tok, nil
	}
}
