package services

import "log"

// AuditSink receives informational and error records about order processing.
// Implementations are fire-and-forget: a failing sink must never influence
// the outcome of the transaction that produced the record.
type AuditSink interface {
	RecordInfo(message string, origin string, fields map[string]interface{})
	RecordError(err error, origin string, fields map[string]interface{})
}

// LogAuditSink writes audit records through the standard logger.
type LogAuditSink struct{}

// RecordInfo logs an informational audit record.
func (LogAuditSink) RecordInfo(message string, origin string, fields map[string]interface{}) {
	log.Printf("INFO [%s] %s %v", origin, message, fields)
}

// RecordError logs an error audit record with its full detail.
func (LogAuditSink) RecordError(err error, origin string, fields map[string]interface{}) {
	log.Printf("ERROR [%s] %v %v", origin, err, fields)
}
