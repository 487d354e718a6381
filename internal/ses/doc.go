// Package ses is the AWS side of the mail pipeline: a raw-MIME sender on
// SES v2, SNS subscription confirmation, and decoding of the SES event
// notifications that SNS delivers to the webhook.
package ses
