// Package provider delivers rendered messages through exactly one email
// service per campaign run: direct SMTP, the SendGrid v3 Mail Send API,
// the Mailgun Messages API or AWS SES v2.
//
// Every Deliver call makes a single attempt bounded by the configured
// timeout. Failures are returned as *DeliveryError, whose Kind tells the
// caller whether retrying can help. Retrying itself is left to the
// campaign orchestrator.
package provider
