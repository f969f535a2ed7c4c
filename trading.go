package main

// Trading is a stub collaborator for the notification class a real trade
// offer would raise. Full trade-offer negotiation (accept/decline rules,
// item valuation) is out of scope; this only logs so an operator watching
// the log stream knows a trade notification arrived and was not acted on.
type Trading struct{}

// HandleNotification logs that botName received a trade notification.
func (t *Trading) HandleNotification(botName string) {
	LogInfo("Bot %s: trade notification received (trading not implemented, no action taken)", botName)
}
