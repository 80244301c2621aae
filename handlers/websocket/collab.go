package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"sync"
	"time"

	"excalidraw-docsync/core"
	"excalidraw-docsync/docsync"

	"github.com/sirupsen/logrus"
	"github.com/zishang520/engine.io/v2/types"
	socketio "github.com/zishang520/socket.io/v2/socket"
)

const openTimeout = 10 * time.Second

type (
	// Sessions opens document sessions for the sockets joining them.
	Sessions interface {
		Open(ctx context.Context, docID string) (*docsync.Session, error)
		OnOpen(fn func(*docsync.Session))
	}

	ackInvoker func(err error, payload map[string]any)

	saveRequest struct {
		Data  *core.DrawingState `json:"excalidrawData,omitempty"`
		Title *string            `json:"title,omitempty"`
	}
)

var (
	activeRooms = make(map[string]int)
	roomsMutex  sync.RWMutex
)

// GetActiveRooms returns the number of sockets per joined document.
func GetActiveRooms() map[string]int {
	roomsMutex.RLock()
	defer roomsMutex.RUnlock()

	rooms := make(map[string]int, len(activeRooms))
	for k, v := range activeRooms {
		rooms[k] = v
	}
	return rooms
}

func setRoomSize(roomID string, n int) {
	roomsMutex.Lock()
	defer roomsMutex.Unlock()
	if n <= 0 {
		delete(activeRooms, roomID)
		return
	}
	activeRooms[roomID] = n
}

// recordPayload is the body of a record-change event.
func recordPayload(session *docsync.Session, record core.PersistedRecord, origin string) map[string]any {
	return map[string]any{
		"documentId": session.ID(),
		"sessionId":  session.SessionID(),
		"origin":     origin,
		"record":     record,
	}
}

// SetupSocketIO serves document rooms. A socket joins the room of a document
// id and receives a record-change event every time the document's cached
// record changes, whichever side wrote it.
func SetupSocketIO(sessions Sessions) *socketio.Server {
	opts := socketio.DefaultServerOptions()
	opts.SetMaxHttpBufferSize(5000000)
	opts.SetPath("/socket.io")
	opts.SetAllowEIO3(true)
	localhostOrigin := regexp.MustCompile(`^https?://(localhost|127\.0\.0\.1|\[::1\])(:\d+)?$`)
	opts.SetCors(&types.Cors{
		Origin: []any{
			"tauri://localhost",
			localhostOrigin,
		},
		Credentials: true,
	})
	srv := socketio.NewServer(nil, opts)

	sessions.OnOpen(func(session *docsync.Session) {
		docID := session.ID()
		room := socketio.Room(docID)
		session.OnChange(func(entry core.CacheEntry, origin docsync.Origin) {
			if origin == docsync.OriginLoad {
				return
			}
			if err := srv.To(room).Emit("record-change", recordPayload(session, entry.Record(), origin.String())); err != nil {
				logrus.WithFields(logrus.Fields{
					"document_id": docID,
					"error":       err,
				}).Warn("Failed to emit record change")
			}
		})
	})

	//nolint:errcheck // Socket.IO event handlers do not return useful errors
	srv.On("connection", func(clients ...any) {
		socket, ok := clients[0].(*socketio.Socket)
		if !ok {
			return
		}

		me := socket.Id()
		log := logrus.WithField("socket_id", me)
		_ = socket.Emit("init-room")
		log.Debug("Socket connected")

		//nolint:errcheck // Socket.IO event handlers do not return useful errors
		socket.On("join-room", func(datas ...any) {
			ack, args := extractAck(datas)
			docID, err := parseRoomArg(args)
			if err != nil {
				respondWithAck(socket, ack, "join-room-ack", errorPayload(err), err)
				return
			}

			ctx, cancel := context.WithTimeout(context.Background(), openTimeout)
			defer cancel()
			session, err := sessions.Open(ctx, docID)
			if err != nil {
				log.WithFields(logrus.Fields{"document_id": docID, "error": err}).Error("Failed to open document for socket")
				respondWithAck(socket, ack, "join-room-ack", errorPayload(err), err)
				return
			}

			room := socketio.Room(docID)
			socket.Join(room)
			log.WithField("document_id", docID).Info("Socket joined document")

			if session.HasData() {
				_ = socket.Emit("record-change", recordPayload(session, session.Record(), docsync.OriginLoad.String()))
			}

			srv.In(room).FetchSockets()(func(users []*socketio.RemoteSocket, fetchErr error) {
				if fetchErr != nil {
					respondWithAck(socket, ack, "join-room-ack", errorPayload(fetchErr), fetchErr)
					return
				}

				setRoomSize(docID, len(users))

				if len(users) <= 1 {
					_ = socket.Emit("first-in-room")
				} else {
					_ = socket.Broadcast().To(room).Emit("new-user", me)
				}

				roomUsers := make([]socketio.SocketId, 0, len(users))
				for _, user := range users {
					roomUsers = append(roomUsers, user.Id())
				}
				srv.In(room).Emit("room-user-change", roomUsers)

				respondWithAck(socket, ack, "join-room-ack", map[string]any{
					"status":       "ok",
					"user_count":   len(users),
					"lastModified": session.Record().LastModified,
				}, nil)
			})
		})

		//nolint:errcheck // Socket.IO event handlers do not return useful errors
		socket.On("server-save", func(datas ...any) {
			docID, req, ack, err := parseSaveArgs(datas)
			if err != nil {
				respondWithAck(socket, ack, "save-ack", errorPayload(err), err)
				return
			}

			ctx, cancel := context.WithTimeout(context.Background(), openTimeout)
			defer cancel()
			session, err := sessions.Open(ctx, docID)
			if err == nil {
				err = session.RequestSave(ctx, docsync.Partial{State: req.Data, Title: req.Title})
			}
			if err != nil {
				log.WithFields(logrus.Fields{"document_id": docID, "error": err}).Warn("Socket save failed")
				respondWithAck(socket, ack, "save-ack", errorPayload(err), err)
				return
			}

			respondWithAck(socket, ack, "save-ack", map[string]any{
				"status":       "ok",
				"lastModified": session.Record().LastModified,
			}, nil)
		})

		//nolint:errcheck // Socket.IO event handlers do not return useful errors
		socket.On("server-broadcast", func(datas ...any) {
			handleBroadcast(socket, datas, false)
		})

		//nolint:errcheck // Socket.IO event handlers do not return useful errors
		socket.On("server-volatile-broadcast", func(datas ...any) {
			handleBroadcast(socket, datas, true)
		})

		socket.On("disconnecting", func(datas ...any) {
			for _, currentRoom := range socket.Rooms().Keys() {
				if currentRoom == socketio.Room(me) {
					continue
				}
				roomID := string(currentRoom)
				srv.In(currentRoom).FetchSockets()(func(users []*socketio.RemoteSocket, _ error) {
					otherClients := make([]socketio.SocketId, 0, len(users))
					for _, userInRoom := range users {
						if userInRoom.Id() != me {
							otherClients = append(otherClients, userInRoom.Id())
						}
					}

					setRoomSize(roomID, len(otherClients))
					log.WithField("document_id", roomID).Debug("Socket leaving document")

					if len(otherClients) > 0 {
						srv.In(currentRoom).Emit("room-user-change", otherClients)
					}
				})
			}
		})

		socket.On("disconnect", func(datas ...any) {
			socket.RemoveAllListeners("")
			socket.Disconnect(true)
		})
	})

	return srv
}

func handleBroadcast(socket *socketio.Socket, datas []any, volatile bool) {
	roomID, payload, metadata, ack := parseBroadcastArgs(datas)
	if roomID == "" {
		err := fmt.Errorf("missing room id")
		respondWithAck(socket, ack, "broadcast-ack", makeBroadcastAckPayload(payload, err), err)
		return
	}

	logrus.WithFields(logrus.Fields{
		"socket_id":   socket.Id(),
		"document_id": roomID,
		"volatile":    volatile,
	}).Trace("Relaying broadcast")

	var emitErr error
	if volatile {
		emitErr = socket.Volatile().Broadcast().To(socketio.Room(roomID)).Emit("client-broadcast", payload, metadata)
	} else {
		emitErr = socket.Broadcast().To(socketio.Room(roomID)).Emit("client-broadcast", payload, metadata)
	}

	respondWithAck(socket, ack, "broadcast-ack", makeBroadcastAckPayload(payload, emitErr), emitErr)
}

func errorPayload(err error) map[string]any {
	return map[string]any{
		"status": "error",
		"error":  err.Error(),
	}
}

func parseRoomArg(args []any) (string, error) {
	if len(args) == 0 {
		return "", fmt.Errorf("room id is required")
	}
	docID, ok := args[0].(string)
	if !ok {
		return "", fmt.Errorf("invalid room id")
	}
	if err := core.CheckDocumentID(docID); err != nil {
		return "", err
	}
	return docID, nil
}

// parseSaveArgs reads (docID, {excalidrawData?, title?}, ack?).
func parseSaveArgs(datas []any) (docID string, req saveRequest, ack ackInvoker, err error) {
	ack, args := extractAck(datas)
	docID, err = parseRoomArg(args)
	if err != nil {
		return "", req, ack, err
	}
	if len(args) < 2 {
		return "", req, ack, fmt.Errorf("save payload is required")
	}

	raw, err := json.Marshal(args[1])
	if err != nil {
		return "", req, ack, fmt.Errorf("encode save payload: %w", err)
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		return "", req, ack, fmt.Errorf("decode save payload: %w", err)
	}
	if req.Data == nil && req.Title == nil {
		return "", req, ack, fmt.Errorf("nothing to save")
	}
	if req.Title != nil && *req.Title == "" {
		return "", req, ack, fmt.Errorf("title must not be empty")
	}
	return docID, req, ack, nil
}

func extractAck(datas []any) (ack ackInvoker, args []any) {
	if len(datas) == 0 {
		return nil, datas
	}

	ack = wrapAck(datas[len(datas)-1])
	if ack == nil {
		return nil, datas
	}
	return ack, datas[:len(datas)-1]
}

// wrapAck adapts the acknowledgement callback a client attached to an
// event. Callbacks that are not socket.io's own func([]any, error) are
// called by reflection with (err, payload), or the first non-nil of the two
// when they take a single argument.
func wrapAck(candidate any) ackInvoker {
	if candidate == nil {
		return nil
	}
	if fn, ok := candidate.(func([]any, error)); ok {
		return func(err error, payload map[string]any) {
			fn([]any{payload}, err)
		}
	}

	value := reflect.ValueOf(candidate)
	if value.Kind() != reflect.Func {
		return nil
	}

	typ := value.Type()
	return func(err error, payload map[string]any) {
		args := make([]reflect.Value, typ.NumIn())
		for i := range args {
			var arg any
			switch {
			case len(args) == 1 && err != nil:
				arg = err
			case len(args) == 1:
				arg = payload
			case i == 0:
				arg = err
			case i == 1:
				arg = payload
			}
			args[i] = coerceValue(arg, typ.In(i))
		}
		value.Call(args)
	}
}

func coerceValue(value any, targetType reflect.Type) reflect.Value {
	if value == nil {
		return reflect.Zero(targetType)
	}

	rv := reflect.ValueOf(value)
	switch {
	case rv.Type().AssignableTo(targetType):
		return rv
	case rv.Type().ConvertibleTo(targetType):
		return rv.Convert(targetType)
	case targetType.Kind() == reflect.String:
		return reflect.ValueOf(fmt.Sprint(value)).Convert(targetType)
	default:
		return reflect.Zero(targetType)
	}
}

func respondWithAck(socket *socketio.Socket, ack ackInvoker, event string, payload map[string]any, ackErr error) {
	if ack != nil {
		ack(ackErr, payload)
	}

	if event != "" && payload != nil {
		_ = socket.Emit(event, payload)
	}
}

func parseBroadcastArgs(datas []any) (roomID string, payload, metadata any, ack ackInvoker) {
	ack, args := extractAck(datas)
	if len(args) < 3 {
		return "", nil, nil, ack
	}

	roomID, _ = args[0].(string)
	return roomID, args[1], args[2], ack
}

func makeBroadcastAckPayload(original any, ackErr error) map[string]any {
	response := map[string]any{"status": "ok"}
	if ackErr != nil {
		response["status"] = "error"
		response["error"] = ackErr.Error()
	}

	if value, ok := original.(map[string]any); ok {
		if id, exists := value["__collabMessageId"].(string); exists && id != "" {
			response["messageId"] = id
		}
	}
	return response
}
