package middleware

import (
	"errors"
	"net/http"

	"github.com/eaglebank/ledger-service/shared/apperror"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

func RespondWithError(c *gin.Context, code int, kind apperror.Kind, message string) {
	c.JSON(code, gin.H{
		"kind":    kind,
		"message": message,
	})
}

// RespondWithAppError writes err using the status of its kind. Insufficient
// funds carry the balance context at the top level of the body; store faults
// never expose their cause.
func RespondWithAppError(c *gin.Context, err error) {
	status := apperror.MapErrorToHTTPStatus(err)

	var appErr *apperror.Error
	if !errors.As(err, &appErr) {
		appErr = apperror.StoreFault(err, "internal error", false)
	}

	body := gin.H{
		"kind":    appErr.Kind,
		"message": appErr.Message,
	}
	switch details := appErr.Details.(type) {
	case apperror.FundsDetails:
		body["current_balance"] = details.CurrentBalance
		body["requested_amount"] = details.RequestedAmount
	case apperror.CandidatesDetails:
		body["candidates"] = details.Candidates
	}

	if status >= http.StatusInternalServerError {
		logrus.WithError(err).WithField("request_id", RequestID(c)).Error("request failed")
	}
	c.JSON(status, body)
}
