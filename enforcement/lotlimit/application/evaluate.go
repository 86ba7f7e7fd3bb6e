package application

import "lotlimit-enforcer/enforcement/lotlimit/domain"

// Evaluation é a decisão tomada a partir de uma troca de liderança.
// Suspend e Unsuspend são independentes: uma troca pode suspender o novo líder
// e liberar o antigo ao mesmo tempo.
type Evaluation struct {
	Suspend   *domain.Intent
	Unsuspend *domain.Intent
	Review    bool
}

func (e Evaluation) Empty() bool {
	return e.Suspend == nil && e.Unsuspend == nil && !e.Review
}

// Evaluate é pura. Espera que out.NewLimit e out.OldLimit já estejam conhecidos
// quando relevantes; limite desconhecido nunca gera transição.
func Evaluate(out domain.Outcome) Evaluation {
	var ev Evaluation

	switch out.Status {
	case domain.StatusAtLimit:
		if !out.NewAwaiting {
			ev.Suspend = &domain.Intent{
				AuctionID:     out.AuctionID,
				ParticipantID: out.NewLeaderID,
				RegistrantID:  out.NewRegistrantID,
				Status:        domain.StatusAwaitingDeposit,
				Reason:        "lot limit reached",
			}
		}
	case domain.StatusExceeded:
		ev.Review = true
	}

	if out.Status.Committed() && out.OldLeaderID != "" && out.OldAwaiting &&
		out.OldLimitKnown && out.OldLimit.Allows(out.OldCount) {
		ev.Unsuspend = &domain.Intent{
			AuctionID:     out.AuctionID,
			ParticipantID: out.OldLeaderID,
			RegistrantID:  out.OldRegistrantID,
			Status:        domain.StatusApproved,
			Reason:        "fell under lot limit",
		}
	}
	return ev
}

// EvaluateStanding decide a partir do estado atual de um participante, sem troca
// envolvida (alteração de limite, reavaliação após falha).
//
// Com enforce=false só libera quem caiu abaixo do limite; com enforce=true também
// suspende quem está no limite ou acima dele.
func EvaluateStanding(auctionID, participantID string, count int, limit domain.Limit, awaiting, enforce bool) Evaluation {
	var ev Evaluation
	switch {
	case awaiting && limit.Allows(count):
		ev.Unsuspend = &domain.Intent{
			AuctionID:     auctionID,
			ParticipantID: participantID,
			Status:        domain.StatusApproved,
			Reason:        "under lot limit",
		}
	case enforce && !awaiting && !limit.Allows(count):
		ev.Suspend = &domain.Intent{
			AuctionID:     auctionID,
			ParticipantID: participantID,
			Status:        domain.StatusAwaitingDeposit,
			Reason:        "at or over lot limit",
		}
	}
	return ev
}
