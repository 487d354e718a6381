// Package dynamo implements the campaign, recipient and reply repositories
// on a single DynamoDB table.
//
// Key layout (PK / SK):
//
//	CAMPAIGN#<id>      META             campaign content and counters
//	CAMPAIGN#<id>      EMAIL#<email>    uniqueness guard for (campaign, email)
//	RECIPIENT#<id>     STATE            recipient record
//	REPLY#<inbound id> REPLY            reply record
//
// GSI1 (GSI1PK / GSI1SK) lists campaigns newest first, a campaign's
// recipients, and a recipient's replies. Recipient transitions are single
// UpdateItem calls whose ConditionExpression carries the precondition.
package dynamo
