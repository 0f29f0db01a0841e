package queue

import "github.com/jwalitptl/opd-queue/internal/model"

// DefaultAvgConsultationMinutes is used when a doctor has no pacing configured.
const DefaultAvgConsultationMinutes = 10

// EstimateWait converts a patient's token and the token being served into an
// ahead-count and ETA. avgConsultationMinutes <= 0 means "use the default".
func EstimateWait(myToken, currentToken, avgConsultationMinutes int) model.WaitEstimate {
	if avgConsultationMinutes <= 0 {
		avgConsultationMinutes = DefaultAvgConsultationMinutes
	}

	ahead := myToken - currentToken - 1
	if ahead < 0 {
		ahead = 0
	}

	return model.WaitEstimate{
		MyToken:              myToken,
		TokensAhead:          ahead,
		EstimatedWaitMinutes: ahead * avgConsultationMinutes,
		IsMyTurn:             myToken == currentToken,
	}
}
