package status

import (
	"encoding/json"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"gnssctl/internal/gdl90"
)

// LogObserver logs every update, at info level when it carries an edge.
type LogObserver struct {
	Log *zap.SugaredLogger
}

func (o LogObserver) OnStatus(u Update) {
	if o.Log == nil {
		return
	}
	kv := []interface{}{
		"connected", u.Status.Connected,
		"has_lock", u.Status.HasLock,
		"power_saving", u.Status.IsPowerSaving,
		"sats", u.Status.Fix.SatsInView,
		"ts", u.Status.Fix.Timestamp,
	}
	if len(u.Edges) == 0 {
		o.Log.Debugw("gps status", kv...)
		return
	}
	names := make([]string, 0, len(u.Edges))
	for _, e := range u.Edges {
		names = append(names, e.String())
	}
	kv = append(kv, "edges", strings.Join(names, ","))
	o.Log.Infow("gps status", kv...)
}

// MQTTClient is the part of mqtt.Client the observer needs.
type MQTTClient interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTObserver publishes each update as JSON. It never waits on the token,
// so a slow broker cannot stall the caller; failures are logged when the
// token completes.
type MQTTObserver struct {
	Client   MQTTClient
	Topic    string
	QoS      byte
	Retained bool
	Log      *zap.SugaredLogger
}

func (o *MQTTObserver) OnStatus(u Update) {
	if o == nil || o.Client == nil {
		return
	}
	payload, err := json.Marshal(u)
	if err != nil {
		o.logError("marshal", err)
		return
	}
	tok := o.Client.Publish(o.Topic, o.QoS, o.Retained, payload)
	if tok == nil {
		return
	}
	go func() {
		<-tok.Done()
		if err := tok.Error(); err != nil {
			o.logError("publish", err)
		}
	}()
}

func (o *MQTTObserver) logError(op string, err error) {
	if o.Log != nil {
		o.Log.Warnw("gps status mqtt "+op+" failed", "topic", o.Topic, "err", err)
	}
}

// ConnectMQTT connects a paho client to broker.
func ConnectMQTT(broker, clientID string) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	return client, nil
}

// Sender sends one datagram.
type Sender interface {
	Send(payload []byte) error
}

// UDPObserver sends each update as one JSON datagram.
type UDPObserver struct {
	Sender Sender
	Log    *zap.SugaredLogger
}

func (o *UDPObserver) OnStatus(u Update) {
	if o == nil || o.Sender == nil {
		return
	}
	payload, err := json.Marshal(u)
	if err != nil {
		return
	}
	if err := o.Sender.Send(payload); err != nil && o.Log != nil {
		o.Log.Warnw("gps status udp send failed", "err", err)
	}
}

// GDL90Observer sends each update as GDL90 datagrams: a heartbeat, plus
// ownship position and geometric altitude while locked.
type GDL90Observer struct {
	Sender   Sender
	Callsign string
	Log      *zap.SugaredLogger

	// Now defaults to time.Now.
	Now func() time.Time
}

func (o *GDL90Observer) OnStatus(u Update) {
	if o == nil || o.Sender == nil {
		return
	}
	now := time.Now
	if o.Now != nil {
		now = o.Now
	}
	var err error
	for _, f := range gdl90.FixFrames(now(), u.Status.HasLock, u.Status.Fix, o.Callsign) {
		err = multierr.Append(err, o.Sender.Send(f))
	}
	if err != nil && o.Log != nil {
		o.Log.Warnw("gps status gdl90 send failed", "err", err)
	}
}
