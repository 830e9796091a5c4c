package handlers

import (
	"errors"
	"net/http"

	"dinein_backend/internal/services"
	"dinein_backend/pkg/utils"

	"github.com/gin-gonic/gin"
)

// respondServiceError maps a service failure to the standard error envelope.
// op names the handler in the log line.
func respondServiceError(c *gin.Context, err error, op string) {
	var svcErr *services.Error
	if !errors.As(err, &svcErr) {
		utils.LogError(err, op+": unexpected error")
		utils.RespondWithError(c, utils.NewAPIError(http.StatusInternalServerError, utils.ErrCodeInternalServerError, "Internal error", ""))
		return
	}

	status, code := http.StatusInternalServerError, utils.ErrCodeInternalServerError
	switch svcErr.Kind {
	case services.KindValidation:
		status, code = http.StatusBadRequest, utils.ErrCodeValidationFailed
	case services.KindNotFound:
		status, code = http.StatusNotFound, utils.ErrCodeNotFound
	case services.KindUnauthorized:
		status, code = http.StatusForbidden, utils.ErrCodeForbidden
	case services.KindInvalidTransition:
		status, code = http.StatusConflict, utils.ErrCodeInvalidTransition
	case services.KindConflict:
		status, code = http.StatusConflict, utils.ErrCodeConflict
	case services.KindPaymentRequired:
		status, code = http.StatusPaymentRequired, utils.ErrCodePaymentRequired
	case services.KindUpstreamPayment:
		status, code = http.StatusBadGateway, utils.ErrCodeUpstreamPaymentError
	}
	if status >= http.StatusInternalServerError {
		utils.LogError(err, op)
	} else {
		utils.LogWarn(op+": "+svcErr.Message, map[string]interface{}{"kind": string(svcErr.Kind)})
	}

	apiErr := utils.NewAPIError(status, code, svcErr.Message, "")
	if ctx := errorContext(svcErr); len(ctx) > 0 {
		apiErr = apiErr.WithContext(ctx)
	}
	utils.RespondWithError(c, apiErr)
}

func errorContext(e *services.Error) map[string]interface{} {
	ctx := map[string]interface{}{}
	if e.CurrentStatus != "" {
		ctx["currentStatus"] = e.CurrentStatus
	}
	if e.RequestedStatus != "" {
		ctx["requestedStatus"] = e.RequestedStatus
	}
	if e.PaymentStatus != "" {
		ctx["paymentStatus"] = e.PaymentStatus
	}
	if e.Kind == services.KindInvalidTransition {
		allowed := e.AllowedNext
		if allowed == nil {
			allowed = []string{}
		}
		ctx["allowedNext"] = allowed
	}
	if len(e.RequiredRoles) > 0 {
		roles := make([]string, len(e.RequiredRoles))
		for i, r := range e.RequiredRoles {
			roles[i] = string(r)
		}
		ctx["requiredRoles"] = roles
	}
	return ctx
}
