// Package notify 将会话生命周期变化转换为事件并异步投递到日志或 RabbitMQ。
package notify
