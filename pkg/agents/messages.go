package agents

// Kind selects a fixed reply.
type Kind int

const (
	KindTechnicalError Kind = iota
	KindRAGCommunicationError
	KindLeadAgentError
	KindOtherInquiry
)

var messages = map[Kind]string{
	KindTechnicalError:        "Je suis désolé, je rencontre un problème technique. Pouvez-vous répéter votre demande dans un instant ?",
	KindRAGCommunicationError: "Je suis désolé, je n'arrive pas à consulter les informations sur nos formations pour le moment. Pouvez-vous reformuler votre question ?",
	KindLeadAgentError:        "Je suis désolé, je n'ai pas pu enregistrer vos coordonnées. Un conseiller pourra vous recontacter ultérieurement.",
	KindOtherInquiry:          "Je ne peux pas vous renseigner sur ce sujet, mais je peux répondre à vos questions sur nos formations ou vous proposer un rendez-vous avec un conseiller.",
}

// Message returns the fixed French text of k.
func Message(k Kind) string {
	if m, ok := messages[k]; ok {
		return m
	}
	return messages[KindTechnicalError]
}
