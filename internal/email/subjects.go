package email

const (
	subjectOfferCreatedFmt  = "New solar lead in %s %s"
	subjectOfferAcceptedFmt = "Lead purchased: %s"
	subjectRefundApproved   = "Refund approved"
	subjectRefundRejected   = "Refund request declined"
)
