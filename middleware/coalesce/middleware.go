package coalesce

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"coalescing-gateway/middleware/coalesce/application"
	"coalescing-gateway/middleware/coalesce/domain"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"
)

// HeaderCoalesce indica se a resposta veio do disparo deste chamador ("dispatched")
// ou de uma chamada compartilhada ("shared").
const HeaderCoalesce = "X-Coalesce"

type KeyFunc func(r *http.Request) string

type Options struct {
	Coalescer *application.Coalescer
	KeyFn     KeyFunc
	// PartitionHeader separa as keys por valor de header (ex: Authorization), para que
	// a resposta de um usuário nunca seja entregue a outro.
	PartitionHeader string
	IgnoreQuery     bool
	// Methods coalescíveis. Padrão: GET e HEAD.
	Methods            []string
	AddCoalesceHeaders bool
	// RegisterWrites: escrita 2xx (ex: POST /api/bots) registra a key de leitura
	// equivalente (GET /api/bots) via RegisterSuccessfulRequest.
	RegisterWrites bool
	Logger         *zap.Logger
}

func DefaultKeyFunc(partitionHeader string, includeQuery bool) KeyFunc {
	return func(r *http.Request) string {
		var b strings.Builder
		b.WriteString(r.Method)
		b.WriteByte(' ')
		b.WriteString(r.URL.Path)
		if includeQuery && r.URL.RawQuery != "" {
			b.WriteByte('?')
			b.WriteString(r.URL.RawQuery)
		}
		if partitionHeader != "" {
			if v := strings.TrimSpace(r.Header.Get(partitionHeader)); v != "" {
				b.WriteByte('#')
				b.WriteString(strconv.FormatUint(xxhash.Sum64String(v), 16))
			}
		}
		return b.String()
	}
}

func Middleware(opts Options) func(next http.Handler) http.Handler {
	if opts.Coalescer == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	if opts.KeyFn == nil {
		opts.KeyFn = DefaultKeyFunc(opts.PartitionHeader, !opts.IgnoreQuery)
	}
	if len(opts.Methods) == 0 {
		opts.Methods = []string{http.MethodGet, http.MethodHead}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	methods := make(map[string]bool, len(opts.Methods))
	for _, m := range opts.Methods {
		methods[strings.ToUpper(strings.TrimSpace(m))] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !methods[r.Method] {
				if opts.RegisterWrites && isWrite(r.Method) {
					serveWrite(opts, next, w, r)
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			key := domain.Key(opts.KeyFn(r))
			v, shared, err := opts.Coalescer.Execute(r.Context(), key, func(ctx context.Context) (any, error) {
				rec := newRecorder()
				next.ServeHTTP(rec, r.WithContext(ctx))
				resp := rec.result()
				if resp.Status >= http.StatusInternalServerError {
					return nil, &UpstreamError{Response: resp}
				}
				return resp, nil
			})

			mark := ""
			if opts.AddCoalesceHeaders {
				mark = "dispatched"
				if shared {
					mark = "shared"
				}
			}

			if err != nil {
				var upErr *UpstreamError
				switch {
				case errors.As(err, &upErr):
					upErr.Response.writeTo(w, mark)
				case errors.Is(err, context.Canceled):
					// cliente foi embora; não há para quem responder
				case errors.Is(err, context.DeadlineExceeded):
					http.Error(w, http.StatusText(http.StatusGatewayTimeout), http.StatusGatewayTimeout)
				default:
					opts.Logger.Error("coalesced request failed",
						zap.String("key", string(key)),
						zap.Bool("shared", shared),
						zap.Error(err))
					http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
				}
				return
			}

			resp, ok := v.(*CapturedResponse)
			if !ok {
				opts.Logger.Error("unexpected coalesced value", zap.String("key", string(key)))
				http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
				return
			}
			resp.writeTo(w, mark)
		})
	}
}

func serveWrite(opts Options, next http.Handler, w http.ResponseWriter, r *http.Request) {
	sw := &statusWriter{ResponseWriter: w}
	next.ServeHTTP(sw, r)
	if sw.status < 200 || sw.status > 299 {
		return
	}

	read := r.Clone(r.Context())
	read.Method = http.MethodGet
	key := domain.Key(opts.KeyFn(read))
	opts.Coalescer.RegisterSuccessfulRequest(key)
	opts.Logger.Debug("registered successful write", zap.String("key", string(key)))
}

func isWrite(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}
