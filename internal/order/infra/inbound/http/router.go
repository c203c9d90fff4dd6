package http

import "github.com/gin-gonic/gin"

// RegisterOrderRoutes registra las rutas HTTP para el dominio de Pedidos.
func RegisterOrderRoutes(r *gin.Engine, handler *OrderHandler) {
	// Agrupamos todas las rutas de pedidos bajo el prefijo "/orders"
	orders := r.Group("/orders")
	{
		orders.POST("", handler.CreateOrder)                       // Crear un pedido
		orders.GET("", handler.ListOrders)                         // Listar pedidos
		orders.GET("/stats", handler.Stats)                        // Resumen del log
		orders.GET("/analytics/trend", handler.DailyTrend)         // Tendencia diaria (ClickHouse)
		orders.GET("/:id", handler.GetOrder)                       // Estado actual o pasado
		orders.GET("/:id/events", handler.GetHistory)              // Log completo con rollbacks
		orders.PUT("/:id/status", handler.ChangeStatus)            // Cambiar estado
		orders.POST("/:id/items", handler.AddItem)                 // Añadir item
		orders.DELETE("/:id/items/:productId", handler.RemoveItem) // Quitar item
		orders.POST("/:id/rollback", handler.Rollback)             // Registrar un rollback
	}
}

// RegisterHealthRoute expone el health check.
func RegisterHealthRoute(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
}
