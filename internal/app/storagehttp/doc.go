// Package storagehttp реализует Storage API — HTTP-интерфейс ноды хранения, принимающей
// файлы сессиями дозаписи поверх локального диска. Основные эндпоинты:
//   - POST /sessions — открывает сессию и возвращает её токен.
//   - PUT /sessions/{token} — дописывает тело по смещению X-Upload-Offset, проверяя размер/хеш.
//   - POST /sessions/{token}/commit — переносит собранный файл по указанному пути.
//   - DELETE /sessions/{token} — отменяет сессию.
//   - POST /objects/copy — копирует готовый объект.
//   - GET|HEAD /objects/* — отдаёт объект или его размер и SHA-256.
//   - POST /admin/gc — инициирует сбор брошенных сессий (ручной GC).
//   - GET /health — отдаёт агрегированные метрики по каталогу данных для health-check'ов.
package storagehttp
