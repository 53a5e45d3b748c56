package config

// Profile names accepted by `orchestrator init`.
var Profiles = []string{"dev", "prod", "agent"}

// Profile returns the YAML for a named profile, or false if unknown.
func Profile(name string) (string, bool) {
	switch name {
	case "dev":
		return DevProfile(), true
	case "prod":
		return ProdProfile(), true
	case "agent":
		return AgentProfile(), true
	}
	return "", false
}

// DevProfile is a local two-agent setup with verbose logging.
func DevProfile() string {
	return `# a2a-orchestrator: development profile
mode: orchestrator

listen:
  host: 127.0.0.1
  port: 8000

agents:
  # Order is the routing tie-break order.
  - name: blog_agent
    url: http://localhost:8001
    default: true
  - name: ppt_agent
    url: http://localhost:8002

discovery:
  ttl: 30s
  grace: 30s

relay:
  idle_timeout: 2m
  cancel_timeout: 5s

logging:
  level: debug
  format: text

reload:
  enabled: true
  watch_file: true
  debounce: 1s
`
}

// ProdProfile enables rate limiting, gRPC health and strict readiness.
func ProdProfile() string {
	return `# a2a-orchestrator: production profile
mode: orchestrator

listen:
  host: 0.0.0.0
  port: 8000
  grpc_port: 8090
  max_connections: 1000

# Additional agents can be appended with A2A_AGENT_HOST=http://a:8001,http://b:8002
agents:
  - name: blog_agent
    url: http://blog-agent:8001
  - name: ppt_agent
    url: http://ppt-agent:8002

health:
  readiness_mode: any_healthy

discovery:
  timeout: 10s
  ttl: 5m
  grace: 1m

relay:
  stream_timeout: 10m
  idle_timeout: 2m
  cancel_timeout: 5s
  task_retention: 1m

security:
  rate_limit:
    enabled: true
    ip:
      per_ip: 200
      burst: 50
  forward_headers:
    - Authorization

logging:
  level: info
  format: json
  audit:
    sampling_rate: 0.1
    error_sampling_rate: 1.0

reload:
  enabled: true
  watch_file: true
  debounce: 2s
`
}

// AgentProfile runs a single agent node around an external content command.
func AgentProfile() string {
	return `# a2a-orchestrator: agent node profile
mode: agent

listen:
  port: 8001

card:
  name: blog_agent
  description: Writes blog posts and articles on a requested topic
  version: 1.0.0
  primary_keywords: [blog, blog post, article, write a post, writing, content research, write about, write a]
  skills:
    - id: blog-writing
      name: Blog Writing
      description: Researches a topic and writes a structured blog post
      tags: [blog, writing, content]
      examples:
        - Write a blog post about Kubernetes autoscaling

node:
  # The task text is written to stdin; stdout becomes the artifact.
  command: ["copilot", "--prompt-file", "-"]
  instructions: .copilot_skills/blog/SKILL.md
  heartbeat: 5s
  timeout: 10m

logging:
  level: info
  format: json
`
}
