package order

import "fmt"

// Buyer-facing chat texts. FunPay's audience is Russian-speaking, so the
// conversation is held in Russian.

func msgAskUsername(quantity int) string {
	return fmt.Sprintf("⭐ Спасибо за покупку %d Telegram Stars 🌟 Отправьте в чат имя пользователя Telegram, на который выдать звёзды (например @funpay):", quantity)
}

func msgConfirm(quantity int, username string) string {
	return fmt.Sprintf("⭐ Подтвердите, что хотите получить %d Telegram Stars 🌟 на аккаунт %s\nЕсли всё верно, отправьте в чат слово 💬 ⏩ \"да\" ⏪ или '+' без кавычек. Либо отправьте \"нет\" или '-' и пришлите новое имя пользователя Telegram.", quantity, username)
}

const msgNotFound = "❌ Указанный Вами аккаунт не найден. Попробуйте ещё раз (пример @funpay)"

func msgQueued(quantity, position int) string {
	return fmt.Sprintf("📊 Ваш заказ на %d звезд добавлен в очередь. Ваша позиция: %d.", quantity, position)
}

func msgCancelled(quantity int, username string) string {
	return fmt.Sprintf("⭐ Отправка %d Telegram Stars 🌟 на аккаунт %s отменена, отправьте новый юзернейм (например @funpay):", quantity, username)
}
