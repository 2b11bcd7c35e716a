package controller

import (
	"fmt"

	"github.com/andywolf/gamepilot/internal/cloud/gcp"
)

// logInfo logs at INFO level to both local logger and cloud logger
func (c *Controller) logInfo(format string, args ...interface{}) {
	msg := gcp.SanitizeForLog(fmt.Sprintf(format, args...))
	c.logger.Printf("%s", msg)
	if c.cloudLogger != nil {
		c.cloudLogger.LogInfo(msg)
	}
}

// logWarning logs at WARNING level to both local logger and cloud logger
func (c *Controller) logWarning(format string, args ...interface{}) {
	msg := gcp.SanitizeForLog(fmt.Sprintf(format, args...))
	c.logger.Printf("Warning: %s", msg)
	if c.cloudLogger != nil {
		c.cloudLogger.LogWarning(msg)
	}
}

// logError logs at ERROR level to both local logger and cloud logger
func (c *Controller) logError(format string, args ...interface{}) {
	msg := gcp.SanitizeForLog(fmt.Sprintf(format, args...))
	c.logger.Printf("Error: %s", msg)
	if c.cloudLogger != nil {
		c.cloudLogger.LogError(msg)
	}
}
