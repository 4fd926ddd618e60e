package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/hazardguard/internal/audit"
	"github.com/router-for-me/hazardguard/internal/config"
	"github.com/router-for-me/hazardguard/internal/guard"
	log "github.com/sirupsen/logrus"
)

// DispositionKey is the gin context key holding the request's guard.Disposition.
const DispositionKey = "guardDisposition"

// GuardOptions configures GuardMiddleware.
type GuardOptions struct {
	AllowedMethods []string
	FailMode       string // config.FailOpen or config.FailClosed.
	RuntimeHeader  bool
	HeaderName     string
	SkipPaths      []string // Exact paths that bypass the guard.
	Recorder       *audit.Recorder
	Now            func() time.Time
}

// GuardMiddleware evaluates every request and aborts deflected ones with the
// disposition's status and message.
func GuardMiddleware(engine *guard.Engine, opts GuardOptions) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(opts.AllowedMethods))
	for _, method := range opts.AllowedMethods {
		allowed[strings.ToUpper(strings.TrimSpace(method))] = struct{}{}
	}
	skip := make(map[string]struct{}, len(opts.SkipPaths))
	for _, path := range opts.SkipPaths {
		skip[path] = struct{}{}
	}
	nowFn := opts.Now
	if nowFn == nil {
		nowFn = time.Now
	}
	headerName := strings.TrimSpace(opts.HeaderName)
	if headerName == "" {
		headerName = "X-Ninja"
	}

	return func(c *gin.Context) {
		if _, ok := skip[c.Request.URL.Path]; ok {
			c.Next()
			return
		}
		started := nowFn()

		var disposition guard.Disposition
		if _, ok := allowed[c.Request.Method]; len(allowed) > 0 && !ok {
			disposition = guard.MethodNotAllowed(c.Request.Method)
		} else {
			var errEvaluate error
			disposition, errEvaluate = engine.Evaluate(c.Request.Context(), c.Request)
			if errEvaluate != nil {
				var unavailable *guard.StoreUnavailableError
				entry := log.WithError(errEvaluate).WithField("client", engine.ClientKey(c.Request))
				if errors.As(errEvaluate, &unavailable) {
					entry = entry.WithField("op", unavailable.Op)
				}
				if opts.FailMode == config.FailClosed {
					entry.Warn("guard: evaluation failed, rejecting request")
					c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "guard unavailable"})
					return
				}
				entry.Warn("guard: evaluation failed, allowing request")
				c.Next()
				return
			}
		}
		c.Set(DispositionKey, disposition)

		runtime := runtimeMillis(nowFn().Sub(started))
		if !disposition.Deflected() {
			if opts.RuntimeHeader {
				c.Header(headerName, fmt.Sprintf("Protected by a Ninja (runtime: %sms)", runtime))
			}
			c.Next()
			return
		}

		if opts.RuntimeHeader {
			c.Header(headerName, fmt.Sprintf("Blocked by a Ninja (runtime: %sms)", runtime))
		}
		status := disposition.StatusCode()
		opts.Recorder.Record(audit.Event{
			Client:     engine.ClientKey(c.Request),
			Hazard:     disposition.Hazard,
			Type:       string(disposition.Type),
			Verdict:    disposition.Verdict.String(),
			Status:     status,
			Method:     c.Request.Method,
			Path:       c.Request.URL.Path,
			OccurredAt: started.UTC(),
		})
		c.AbortWithStatusJSON(status, gin.H{"error": disposition.Message()})
	}
}

func runtimeMillis(d time.Duration) string {
	return strconv.FormatFloat(float64(d)/float64(time.Millisecond), 'f', 3, 64)
}
