package rabbitmq

// QueueConfig описывает очередь и её ключ маршрутизации в exchange "events".
type QueueConfig struct {
	QueueName  string
	RoutingKey string
}

// Имена exchange, очередей и ключей маршрутизации событий аудита.
const (
	EventsExchange   = "events"
	AuditQueue       = "events.audit"
	AuditRoutingKey  = "audit"
)

// GetAuditQueues возвращает набор очередей журнала аудита.
func GetAuditQueues() []QueueConfig {
	return []QueueConfig{
		{QueueName: AuditQueue, RoutingKey: AuditRoutingKey},
	}
}
