package pdu

import "github.com/caio-sobreiro/dicomreceptor/types"

// Acceptor decides which proposed presentation contexts an SCP accepts.
type Acceptor struct {
	AbstractSyntax func(uid string) bool
	TransferSyntax func(uid string) bool
}

// StorageAcceptor accepts the Verification SOP class and every storage SOP
// class, in any transfer syntax whose datasets can be stored as received.
var StorageAcceptor = Acceptor{
	AbstractSyntax: func(uid string) bool {
		return types.IsVerificationSOPClass(uid) || types.IsStorageSOPClass(uid)
	},
	TransferSyntax: types.IsStorable,
}

// Negotiate picks the first proposed transfer syntax the acceptor supports.
// Rejected contexts keep the first proposed syntax, which the peer ignores.
func (a Acceptor) Negotiate(proposed ProposedContext) PresentationContext {
	pc := PresentationContext{
		ID:             proposed.ID,
		AbstractSyntax: proposed.AbstractSyntax,
		Result:         ResultAbstractSyntaxReject,
	}
	if len(proposed.TransferSyntaxes) > 0 {
		pc.TransferSyntax = proposed.TransferSyntaxes[0]
	}

	if proposed.AbstractSyntax == "" || !a.AbstractSyntax(proposed.AbstractSyntax) {
		return pc
	}

	pc.Result = ResultTransferSyntaxReject
	for _, ts := range proposed.TransferSyntaxes {
		if a.TransferSyntax(ts) {
			pc.Result = ResultAcceptance
			pc.TransferSyntax = ts
			break
		}
	}
	return pc
}
