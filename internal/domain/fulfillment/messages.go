package fulfillment

import "fmt"

func msgDelivered(quantity int, username string) string {
	return fmt.Sprintf("✅ %d звёзд успешно отправлены на аккаунт %s и поступят в течении 2-3 минут! Не забудьте подтвердить заказ и оставить свой отзыв ✈️", quantity, username)
}

func msgDeliveryFailed(quantity int, username string) string {
	return fmt.Sprintf("Отправка %d звезд %s не удалась, попробуйте еще раз.", quantity, username)
}

func msgPosition(quantity, position int) string {
	return fmt.Sprintf("📊 Ваш заказ на %d звезд теперь на позиции %d в очереди.", quantity, position)
}
