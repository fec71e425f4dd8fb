package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/inkwell-hq/inkwell/pkg/metrics"
)

// Metrics observes per-route request latency. The route template is used
// as the path label so parameterised routes collapse into one series.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			// Unmatched requests share one label to keep cardinality flat.
			route = "unmatched"
		}

		metrics.APILatency.
			WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}
