package forceplot

import "html/template"

var plotTemplate = template.Must(template.New("forceplot").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Force plot: {{.OutputName}}</title>
<style>
  body { font-family: -apple-system, "Segoe UI", Helvetica, Arial, sans-serif; margin: 0; padding: 12px; color: #333; }
  .fp-header { display: flex; gap: 24px; align-items: baseline; font-size: 13px; margin-bottom: 4px; }
  .fp-header .fp-output { font-size: 15px; font-weight: 700; }
  .fp-higher { color: #ff0d57; }
  .fp-lower { color: #1e88e5; }
  svg.fp-svg { width: 100%; height: auto; overflow: visible; }
  .fp-axis line, .fp-axis path { stroke: #ccc; }
  .fp-axis text { font-size: 11px; fill: #888; }
  .fp-seg polygon { stroke: #fff; stroke-width: 1; cursor: pointer; transition: opacity .15s; }
  .fp-seg.positive polygon { fill: #ff0d57; }
  .fp-seg.negative polygon { fill: #1e88e5; }
  .fp-seg text { font-size: 11px; pointer-events: none; }
  .fp-seg.positive text { fill: #ff0d57; }
  .fp-seg.negative text { fill: #1e88e5; }
  .fp-dim .fp-seg polygon { opacity: .35; }
  .fp-dim .fp-seg.fp-active polygon { opacity: 1; }
  .fp-marker { stroke: #555; stroke-dasharray: 3 3; }
  .fp-marker-label { font-size: 11px; fill: #555; }
  .fp-out-label { font-size: 13px; font-weight: 700; fill: #333; }
  table.fp-table { border-collapse: collapse; font-size: 12px; margin-top: 8px; }
  table.fp-table th, table.fp-table td { padding: 3px 10px; text-align: right; border-bottom: 1px solid #eee; }
  table.fp-table th:first-child, table.fp-table td:first-child { text-align: left; }
  table.fp-table tr.fp-active td { background: #f5f5f5; }
  #fp-tip { position: fixed; display: none; background: #333; color: #fff; padding: 4px 8px; border-radius: 3px; font-size: 12px; pointer-events: none; }
</style>
</head>
<body>
<div class="fp" id="{{.ID}}">
  <div class="fp-header">
    <span class="fp-output">f(x) = {{.OutputText}}</span>
    <span>base value = {{.BaseText}}</span>
    <span><span class="fp-higher">&#9632; higher</span> &#8652; <span class="fp-lower">&#9632; lower</span></span>
    <span>{{.OutputName}}</span>
  </div>
  <svg class="fp-svg" viewBox="0 0 {{.Width}} {{.Height}}" xmlns="http://www.w3.org/2000/svg">
    <g class="fp-axis">
      <line x1="{{.PlotLeft}}" y1="{{.AxisY}}" x2="{{.PlotRight}}" y2="{{.AxisY}}"></line>
      {{range .Ticks}}<line x1="{{.X}}" y1="{{$.AxisY}}" x2="{{.X}}" y2="{{$.TickBottom}}"></line>
      <text x="{{.X}}" y="{{$.TickLabelY}}" text-anchor="middle">{{.Label}}</text>
      {{end}}
    </g>
    {{range .Segments}}<g class="fp-seg {{.Class}}" data-index="{{.Index}}" data-tip="{{.Tip}}">
      <polygon points="{{.Points}}"></polygon>
      <title>{{.Tip}}</title>
      {{if .ShowLabel}}<text x="{{.LabelX}}" y="{{$.SegLabelY}}" text-anchor="middle">{{.Label}}</text>{{end}}
    </g>
    {{end}}
    <line class="fp-marker" x1="{{.BaseX}}" y1="{{.MarkerTop}}" x2="{{.BaseX}}" y2="{{.AxisY}}"></line>
    <text class="fp-marker-label" x="{{.BaseX}}" y="{{.MarkerLabelY}}" text-anchor="middle">base value</text>
    <line class="fp-marker" x1="{{.OutputX}}" y1="{{.MarkerTop}}" x2="{{.OutputX}}" y2="{{.AxisY}}"></line>
    <text class="fp-out-label" x="{{.OutputX}}" y="{{.OutputLabelY}}" text-anchor="middle">{{.OutputText}}</text>
  </svg>
  <table class="fp-table">
    <thead><tr><th>feature</th><th>value</th><th>contribution</th></tr></thead>
    <tbody>
    {{range .Rows}}<tr data-index="{{.Index}}"><td>{{.Feature}}</td><td>{{.Value}}</td><td class="{{.Class}}">{{.Effect}}</td></tr>
    {{end}}
    </tbody>
  </table>
  <div id="fp-tip"></div>
</div>
<script type="application/json" id="{{.ID}}-data">{{.Payload}}</script>
<script>
(function () {
  var root = document.getElementById({{.ID}});
  if (!root) { return; }
  var svg = root.querySelector("svg");
  var tip = root.querySelector("#fp-tip");
  function rows(i) { return root.querySelectorAll('tr[data-index="' + i + '"]'); }
  function activate(el, on, ev) {
    var i = el.getAttribute("data-index");
    el.classList.toggle("fp-active", on);
    svg.classList.toggle("fp-dim", on);
    rows(i).forEach(function (r) { r.classList.toggle("fp-active", on); });
    if (on && ev) {
      tip.textContent = el.getAttribute("data-tip");
      tip.style.left = (ev.clientX + 12) + "px";
      tip.style.top = (ev.clientY + 12) + "px";
      tip.style.display = "block";
    } else {
      tip.style.display = "none";
    }
  }
  root.querySelectorAll(".fp-seg").forEach(function (el) {
    el.addEventListener("mousemove", function (ev) { activate(el, true, ev); });
    el.addEventListener("mouseleave", function () { activate(el, false); });
  });
  root.querySelectorAll("tbody tr").forEach(function (tr) {
    var seg = svg.querySelector('.fp-seg[data-index="' + tr.getAttribute("data-index") + '"]');
    if (!seg) { return; }
    tr.addEventListener("mouseenter", function () { activate(seg, true); });
    tr.addEventListener("mouseleave", function () { activate(seg, false); });
  });
})();
</script>
</body>
</html>
`))
